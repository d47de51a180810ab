package work

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"groundwork/pkg/logx"
	"groundwork/pkg/timer"
)

// Subprocess workers re-exec the current binary. The child finds its entry
// point by name in a process-wide registry, so everything crossing the
// boundary is either a registered identifier or a gob-serialized frame.
const (
	procEnv = "GROUNDWORK_PROC"
	initEnv = "GROUNDWORK_PROC_INIT"
)

// procSpec is the construction-time state handed to the child via the
// environment.
type procSpec struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule,omitempty"`
	HWM      int    `json:"hwm,omitempty"`
	LogLevel string `json:"log_level,omitempty"`
}

// ProcConfig tunes a subprocess worker at spawn time.
type ProcConfig struct {
	// Schedule paces the child loop; parsed by timer.Parse. Empty means the
	// default one-second period.
	Schedule string
	// HWM bounds the child-side queue for batch/stream workers.
	HWM int
	// Init names a registered initializer run once in the child before the
	// first callback. It is carried in the environment, so workers spawned
	// from inside the child inherit it.
	Init string
	// LogLevel for the child's console logger.
	LogLevel string
}

var procRegistry = struct {
	mu      sync.Mutex
	entries map[string]func(spec procSpec) error
	inits   map[string]func()
}{
	entries: map[string]func(spec procSpec) error{},
	inits:   map[string]func(){},
}

func registerEntry(name string, entry func(spec procSpec) error) {
	procRegistry.mu.Lock()
	defer procRegistry.mu.Unlock()
	if _, dup := procRegistry.entries[name]; dup {
		panic(fmt.Sprintf("work: duplicate proc registration %q", name))
	}
	procRegistry.entries[name] = entry
}

func lookupEntry(name string) func(spec procSpec) error {
	procRegistry.mu.Lock()
	defer procRegistry.mu.Unlock()
	return procRegistry.entries[name]
}

// RegisterInit registers a one-time initializer runnable in a child process.
func RegisterInit(name string, fn func()) {
	procRegistry.mu.Lock()
	defer procRegistry.mu.Unlock()
	procRegistry.inits[name] = fn
}

func lookupInit(name string) func() {
	procRegistry.mu.Lock()
	defer procRegistry.mu.Unlock()
	return procRegistry.inits[name]
}

// Register makes a plain task callback spawnable via StartProc. Must run
// before ProcMain (package init or early main).
func Register(name string, fn Callback) {
	registerEntry(name, func(spec procSpec) error {
		tm, log, err := childSetup(spec, false)
		if err != nil {
			return err
		}
		t := New(fn, WithTimer(tm), WithLogger(log)).Start()
		go stopOnStdinEOF(t)
		t.Join()
		return nil
	})
}

// RegisterBatch makes a batch handler spawnable via StartProcBatcher. The
// child drains gob frames arriving on stdin into its queue and runs the
// normal batcher loop over them.
func RegisterBatch[T any](name string, handle Handler[T]) {
	registerEntry(name, func(spec procSpec) error {
		tm, log, err := childSetup(spec, false)
		if err != nil {
			return err
		}
		b := &Batcher[T]{q: NewQueue[T](spec.HWM), log: log}
		b.task = New(b.callback(handle), WithTimer(tm), WithLogger(log))
		go decodeInto(b.q)
		b.task.Start()
		b.task.Join()
		return nil
	})
}

// RegisterStream makes a producer spawnable via StartProcStreamer. The child
// runs the normal streamer loop and forwards every consumed item to stdout as
// a gob frame, ending with a stop frame.
func RegisterStream[T any](name string, produce Producer[T]) {
	registerEntry(name, func(spec procSpec) error {
		tm, log, err := childSetup(spec, true)
		if err != nil {
			return err
		}
		s := NewStreamer(produce, WithTimer(tm), WithHWM(spec.HWM), WithLogger(log)).Start()
		go stopOnStdinEOF(s.task)

		// Wake the forwarding loop when the producer loop ends without a stop
		// marker (a cooperative Stop rather than end-of-stream).
		loopCtx, loopDone := context.WithCancel(context.Background())
		go func() {
			s.Join()
			loopDone()
		}()

		enc := gob.NewEncoder(os.Stdout)
		for {
			v, ok, err := s.Next(loopCtx)
			if err != nil {
				// Producer loop is gone; flush whatever is still buffered.
				left, _, _ := s.q.Drain(context.Background(), 0)
				for _, lv := range left {
					if err := enc.Encode(frame[T]{Val: lv}); err != nil {
						return err
					}
				}
				return enc.Encode(frame[T]{Stop: true})
			}
			if !ok {
				return enc.Encode(frame[T]{Stop: true})
			}
			if err := enc.Encode(frame[T]{Val: v}); err != nil {
				// Parent went away; nothing left to stream to.
				s.Stop()
				s.Join()
				return err
			}
		}
	})
}

func childSetup(spec procSpec, dataOnStdout bool) (timer.Timer, logx.Logger, error) {
	var tm timer.Timer
	if spec.Schedule == "" {
		tm = timer.Every(DefaultPeriod)
	} else {
		parsed, err := timer.Parse(spec.Schedule)
		if err != nil {
			return nil, logx.Logger{}, err
		}
		tm = parsed
	}
	var log logx.Logger
	if dataOnStdout {
		log = logx.NewConsoleStderr(spec.LogLevel)
	} else {
		log = logx.NewConsole(spec.LogLevel)
	}
	return tm, log, nil
}

// stopOnStdinEOF translates the parent closing our stdin into a cooperative
// Stop.
func stopOnStdinEOF(t *Task) {
	_, _ = io.Copy(io.Discard, os.Stdin)
	t.Stop()
}

// decodeInto pumps gob frames from stdin into the queue. EOF without an
// explicit stop frame (a crashed parent) still ends the stream cleanly.
func decodeInto[T any](q *Queue[T]) {
	dec := gob.NewDecoder(os.Stdin)
	ctx := context.Background()
	for {
		var f frame[T]
		if err := dec.Decode(&f); err != nil {
			_ = q.PutStop(ctx)
			return
		}
		if f.Stop {
			_ = q.PutStop(ctx)
			return
		}
		_ = q.Put(ctx, f.Val)
	}
}

// ProcMain is the child-process hook. Call it at the top of main (and of
// TestMain in packages with subprocess tests): in a worker child it runs the
// registered entry and exits; in the parent it returns immediately.
func ProcMain() {
	raw := os.Getenv(procEnv)
	if raw == "" {
		return
	}
	var spec procSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		fmt.Fprintf(os.Stderr, "work: bad proc spec: %v\n", err)
		os.Exit(2)
	}
	if initName := os.Getenv(initEnv); initName != "" {
		if fn := lookupInit(initName); fn != nil {
			fn()
		}
	}
	entry := lookupEntry(spec.Name)
	if entry == nil {
		fmt.Fprintf(os.Stderr, "work: unknown proc entry %q\n", spec.Name)
		os.Exit(2)
	}
	if err := entry(spec); err != nil {
		fmt.Fprintf(os.Stderr, "work: proc %q: %v\n", spec.Name, err)
		os.Exit(1)
	}
	os.Exit(0)
}

// Proc is a scheduled worker running on an isolated subprocess.
type Proc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	closeOnce sync.Once
	waitOnce  sync.Once
	waitErr   error
}

func spawn(name string, cfg ProcConfig, wantStdout bool) (*Proc, io.Reader, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, nil, err
	}
	spec := procSpec{Name: name, Schedule: cfg.Schedule, HWM: cfg.HWM, LogLevel: cfg.LogLevel}
	raw, err := json.Marshal(spec)
	if err != nil {
		return nil, nil, err
	}

	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(), procEnv+"="+string(raw))
	if cfg.Init != "" {
		cmd.Env = append(cmd.Env, initEnv+"="+cfg.Init)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, err
	}
	var stdout io.Reader
	if wantStdout {
		stdout, err = cmd.StdoutPipe()
		if err != nil {
			return nil, nil, err
		}
	} else {
		cmd.Stdout = os.Stdout
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return &Proc{cmd: cmd, stdin: stdin}, stdout, nil
}

// StartProc spawns a registered task callback on its own process.
func StartProc(name string, cfg ProcConfig) (*Proc, error) {
	p, _, err := spawn(name, cfg, false)
	return p, err
}

// Stop requests cooperative termination by closing the child's stdin; the
// child stops at its next suspension point.
func (p *Proc) Stop() *Proc {
	p.closeOnce.Do(func() { _ = p.stdin.Close() })
	return p
}

// Join blocks until the child process has exited.
func (p *Proc) Join() error {
	p.waitOnce.Do(func() { p.waitErr = p.cmd.Wait() })
	return p.waitErr
}

// ProcBatcher is the parent half of a cross-process batcher: Add serializes
// items onto the child's stdin, where the registered handler drains them.
type ProcBatcher[T any] struct {
	proc *Proc

	mu  sync.Mutex
	enc *gob.Encoder
}

// StartProcBatcher spawns the batch worker registered under name.
func StartProcBatcher[T any](name string, cfg ProcConfig) (*ProcBatcher[T], error) {
	p, _, err := spawn(name, cfg, false)
	if err != nil {
		return nil, err
	}
	return &ProcBatcher[T]{proc: p, enc: gob.NewEncoder(p.stdin)}, nil
}

// Add sends one item to the child. The pipe's buffer bounds how far the
// parent can run ahead; a stalled child eventually blocks Add.
func (b *ProcBatcher[T]) Add(v T) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enc.Encode(frame[T]{Val: v})
}

// Join sends the stop frame and waits for the child to drain and exit.
func (b *ProcBatcher[T]) Join() error {
	b.mu.Lock()
	err := b.enc.Encode(frame[T]{Stop: true})
	b.mu.Unlock()
	if err != nil {
		return err
	}
	b.proc.Stop() // close stdin so the child sees EOF after the stop frame
	return b.proc.Join()
}

// ProcStreamer is the parent half of a cross-process streamer: the child's
// registered producer emits items which arrive here as gob frames on its
// stdout.
type ProcStreamer[T any] struct {
	proc *Proc
	dec  *gob.Decoder
}

// StartProcStreamer spawns the stream producer registered under name.
func StartProcStreamer[T any](name string, cfg ProcConfig) (*ProcStreamer[T], error) {
	p, out, err := spawn(name, cfg, true)
	if err != nil {
		return nil, err
	}
	return &ProcStreamer[T]{proc: p, dec: gob.NewDecoder(out)}, nil
}

// Next blocks for the next streamed item. ok is false once the child signals
// end-of-stream (or exits).
func (s *ProcStreamer[T]) Next() (v T, ok bool, err error) {
	var f frame[T]
	if err := s.dec.Decode(&f); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return v, false, nil
		}
		return v, false, err
	}
	if f.Stop {
		return v, false, nil
	}
	return f.Val, true, nil
}

// Stop requests cooperative termination of the child producer.
func (s *ProcStreamer[T]) Stop() *ProcStreamer[T] {
	s.proc.Stop()
	return s
}

// Join blocks until the child process has exited. Call after Next has
// reported end-of-stream; joining earlier can deadlock against a full pipe.
func (s *ProcStreamer[T]) Join() error {
	return s.proc.Join()
}
