package work

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"groundwork/pkg/logx"
	"groundwork/pkg/timer"
)

// ErrStop is returned by a callback (or producer) to end its task loop
// cleanly. Any other error is logged and the loop continues.
var ErrStop = errors.New("work: stop")

// DefaultPeriod paces tasks whose construction supplied neither a timer nor
// a period.
const DefaultPeriod = time.Second

// Callback is one tick of work. The context is the task's run context; it is
// not cancelled by Stop(), so an in-flight callback is never preempted.
type Callback func(ctx context.Context) error

type options struct {
	tm     timer.Timer
	period time.Duration
	hwm    int
	log    logx.Logger
	ctx    context.Context
}

type Option func(*options)

// WithTimer paces the task with an explicit tick source.
func WithTimer(t timer.Timer) Option { return func(o *options) { o.tm = t } }

// WithPeriod paces the task at a fixed interval. Ignored when WithTimer is set.
func WithPeriod(d time.Duration) Option { return func(o *options) { o.period = d } }

// WithHWM sets the queue capacity for batching/streaming workers.
func WithHWM(n int) Option { return func(o *options) { o.hwm = n } }

func WithLogger(log logx.Logger) Option { return func(o *options) { o.log = log } }

// WithContext sets the base context handed to callbacks. Defaults to
// context.Background().
func WithContext(ctx context.Context) Option { return func(o *options) { o.ctx = ctx } }

func buildOptions(opts []Option) options {
	o := options{ctx: context.Background(), log: logx.Nop()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.tm == nil {
		d := o.period
		if d <= 0 {
			d = DefaultPeriod
		}
		o.tm = timer.Every(d)
	}
	return o
}

func (o options) queueCap() int {
	if o.hwm > 0 {
		return o.hwm
	}
	return DefaultHWM
}

// Task repeatedly invokes a callback, each invocation preceded by a wait on
// its timer. Created stopped; Start spawns the loop; Stop requests
// cooperative termination at the next wake; Join blocks until the loop has
// exited. A Task is not restartable once stopped.
type Task struct {
	tm  timer.Timer
	fn  Callback
	log logx.Logger

	runCtx   context.Context
	waitCtx  context.Context
	stopWait context.CancelFunc
	stopped  chan struct{} // closed by Stop()
	stopOnce sync.Once

	done chan struct{}
}

func New(fn Callback, opts ...Option) *Task {
	o := buildOptions(opts)
	waitCtx, stopWait := context.WithCancel(o.ctx)
	return &Task{
		tm:       o.tm,
		fn:       fn,
		log:      o.log,
		runCtx:   o.ctx,
		waitCtx:  waitCtx,
		stopWait: stopWait,
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start spawns the task loop. It returns the task for chaining.
func (t *Task) Start() *Task {
	go t.run()
	return t
}

// Stop requests cooperative termination. The loop exits at its next
// suspension point; an in-flight callback always finishes first.
func (t *Task) Stop() *Task {
	t.stopOnce.Do(func() {
		close(t.stopped)
		t.stopWait()
	})
	return t
}

// Join blocks until the task loop has exited.
func (t *Task) Join() {
	<-t.done
}

func (t *Task) isStopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}

func (t *Task) run() {
	defer close(t.done)
	for {
		if err := t.tm.Wait(t.waitCtx); err != nil {
			// Woken by Stop() or by the base context ending.
			t.log.Info("task cleanly stopped")
			return
		}
		if t.isStopped() {
			t.log.Info("task cleanly stopped")
			return
		}
		if stop := t.tick(); stop {
			t.log.Info("task cleanly stopped")
			return
		}
	}
}

// tick runs one callback invocation. It reports whether the loop should end.
// Panics and transient errors are logged and the loop continues; only ErrStop
// terminates.
func (t *Task) tick() (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("panic in task callback", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	err := t.fn(t.runCtx)
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStop) {
		return true
	}
	t.log.Error("error executing task", logx.Err(err))
	return false
}
