package executor

// actor serializes all handler invocations for one executor onto a
// single goroutine via a bounded command channel, mirroring the
// teacher's single-writer-per-connection discipline in handleConnection
// generalized to "dispatch one closure at a time" (see SPEC_FULL §5).
type actor struct {
	cmds chan func()
	done chan struct{}
}

func newActor() *actor {
	a := &actor{
		cmds: make(chan func(), 64),
		done: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *actor) run() {
	for cmd := range a.cmds {
		cmd()
	}
	close(a.done)
}

// Do enqueues fn to run on the actor goroutine. It does not block for fn
// to complete; callers that need a result should close over a channel.
func (a *actor) Do(fn func()) {
	a.cmds <- fn
}

// DoSync enqueues fn and blocks until it has run, guaranteeing
// handler-level atomicity for callers that need the result before
// returning (e.g. an RPC handler answering execute_goal).
func (a *actor) DoSync(fn func()) {
	done := make(chan struct{})
	a.cmds <- func() {
		fn()
		close(done)
	}
	<-done
}

// Close stops accepting new commands immediately and blocks until the
// commands already queued have run.
func (a *actor) Close() {
	close(a.cmds)
	<-a.done
}
