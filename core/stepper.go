package core

// Stepper is the default RoutineDriver. Each call to Step advances every
// active routine by exactly one step, in the order they were started.
// Routines started during a Step are first advanced on the following Step.
//
// Stepper is confined to the main goroutine; the Dispatcher only calls it
// from DrainOnce and Pump.
type Stepper struct {
	active []*steppedRoutine
	logger Logger
	aff    *affinity
}

type steppedRoutine struct {
	handle *RoutineHandle
	stack  []frame
	onDone func(error)
}

// NewStepper creates an empty Stepper.
func NewStepper(logger Logger) *Stepper {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &Stepper{logger: logger}
}

// Start registers r for stepping.
func (s *Stepper) Start(h *RoutineHandle, r Routine, onDone func(error)) {
	if h.StopRequested() {
		complete(h, onDone, ErrRoutineStopped)
		return
	}
	if r == nil {
		complete(h, onDone, nil)
		return
	}
	s.active = append(s.active, &steppedRoutine{
		handle: h,
		stack:  []frame{pull(r, s.aff)},
		onDone: onDone,
	})
}

// Stop requests that the routine for h ends at its next step.
func (s *Stepper) Stop(h *RoutineHandle) {
	h.requestStop()
}

// StopAll ends every active routine immediately, completing each with err.
func (s *Stepper) StopAll(err error) {
	active := s.active
	s.active = nil
	for _, sr := range active {
		unwindFrames(sr.stack)
		sr.stack = nil
		complete(sr.handle, sr.onDone, err)
	}
}

// Active returns the number of routines still being stepped.
func (s *Stepper) Active() int { return len(s.active) }

// Step advances every active routine once.
func (s *Stepper) Step() {
	if len(s.active) == 0 {
		return
	}

	current := s.active
	s.active = nil
	kept := current[:0]
	for _, sr := range current {
		if done, err := s.advance(sr); done {
			unwindFrames(sr.stack)
			sr.stack = nil
			complete(sr.handle, sr.onDone, err)
			continue
		}
		kept = append(kept, sr)
	}
	// Routines started while stepping were appended to s.active.
	s.active = append(kept, s.active...)
}

func (s *Stepper) advance(sr *steppedRoutine) (done bool, err error) {
	if sr.handle.StopRequested() {
		return true, ErrRoutineStopped
	}

	top := sr.stack[len(sr.stack)-1]
	v, ok, err := top.advance()
	if err != nil {
		s.logger.Error("routine panicked", F("routine", sr.handle.ID()), F("error", err))
		return true, err
	}
	if !ok {
		top.stop()
		sr.stack = sr.stack[:len(sr.stack)-1]
		return len(sr.stack) == 0, nil
	}
	if child, ok := nested(v); ok {
		sr.stack = append(sr.stack, pull(child, s.aff))
	}
	return false, nil
}

func complete(h *RoutineHandle, onDone func(error), err error) {
	h.finish(err)
	if onDone != nil {
		onDone(err)
	}
}
