// Package mainthread runs work posted from any goroutine on one designated
// goroutine, the main goroutine, and represents that work as awaitable tasks.
//
// The main goroutine is whichever goroutine calls Init (or the goroutine a
// MainLoop starts for InitMainLoop). The host pumps the dispatcher once per
// tick from that goroutine; each pump drains everything posted since the
// previous one.
//
// # Quick Start
//
// Bind the calling goroutine and pump it from your frame loop:
//
//	inst := mainthread.Init(nil)
//	defer mainthread.Shutdown()
//
//	for running {
//		_ = inst.Dispatcher().Pump()
//		// render frame...
//	}
//
// Without a frame loop, let a MainLoop goroutine do the pumping:
//
//	inst := mainthread.InitMainLoop(&mainthread.Config{Workers: 4})
//	defer mainthread.Shutdown()
//
// # Key Concepts
//
// Task: the result of Run, RunOnMain, RunOnCurrent or RunCoroutine. Its
// Status moves from Created to Running to Success or Faulted exactly once;
// Err holds the error or recovered panic of a faulted task. Wait blocks,
// WaitRoutine waits cooperatively from inside another routine.
//
// Strategy: Background runs on the worker pool, MainThread at the next
// drain, CurrentThread inline, Coroutine as a Routine stepped on the main
// goroutine.
//
// Routine: a cooperative sequence, written as an iterator function. Yielding
// another Routine runs it to completion first; yielding anything else ends
// the step.
//
// # Example
//
//	import (
//		"context"
//		mainthread "github.com/Swind/go-mainthread"
//	)
//
//	func loadAsset(name string) *mainthread.Task {
//		return mainthread.Run(func(ctx context.Context) error {
//			data, err := readFile(name)
//			if err != nil {
//				return err
//			}
//			mainthread.RunOnMain(func(ctx context.Context) error {
//				return upload(data) // needs the main goroutine
//			})
//			return nil
//		})
//	}
package mainthread
