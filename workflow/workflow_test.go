package workflow

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"emperror.dev/errors"
	. "github.com/franela/goblin"

	"github.com/reynalivan/emm-core/config"
	"github.com/reynalivan/emm-core/events"
)

func testExecutor(workers int, bus *events.Bus) *Executor {
	return New(config.WorkflowConfiguration{
		Workers:          workers,
		TaskTimeout:      5,
		ProgressInterval: 0,
	}, bus)
}

func noop(ctx context.Context) error {
	return nil
}

func TestExecutorStatuses(t *testing.T) {
	g := Goblin(t)

	g.Describe("Submit", func() {
		g.It("records every terminal status when one task fails", func() {
			boom := errors.New("disk full")
			tasks := []*Task{
				{Kind: KindToggle, Path: "/lib/x", Run: noop},
				{Kind: KindToggle, Path: "/lib/x", Run: noop},
				{Kind: KindRename, Path: "/lib/x", Run: func(ctx context.Context) error { return boom }},
				{Kind: KindToggle, Path: "/lib/x", Run: noop},
				{Kind: KindToggle, Path: "/lib/x", Run: noop},
			}

			rep := testExecutor(2, nil).Submit(context.Background(), tasks).Wait()
			g.Assert(len(rep.Results)).Equal(5)
			g.Assert(rep.Results[0].Status).Equal(StatusSucceeded)
			g.Assert(rep.Results[1].Status).Equal(StatusSucceeded)
			g.Assert(rep.Results[2].Status).Equal(StatusFailed)
			g.Assert(rep.Results[3].Status).Equal(StatusSucceeded)
			g.Assert(rep.Results[4].Status).Equal(StatusSucceeded)
			g.Assert(rep.Failed).Equal(1)

			g.Assert(rep.Err != nil).IsTrue()
			var te *TaskError
			g.Assert(errors.As(rep.Err, &te)).IsTrue()
			g.Assert(te.Kind).Equal(KindRename)
			g.Assert(errors.Is(te.Err, boom)).IsTrue()
		})

		g.It("assigns ids and default descriptions on submit", func() {
			task := &Task{Kind: KindPin, Run: noop}
			rep := testExecutor(1, nil).Submit(context.Background(), []*Task{task}).Wait()
			g.Assert(task.ID != "").IsTrue()
			g.Assert(rep.Results[0].Description).Equal("pin")
		})

		g.It("completes immediately for an empty plan", func() {
			rep := testExecutor(1, nil).Submit(context.Background(), nil).Wait()
			g.Assert(len(rep.Results)).Equal(0)
			g.Assert(rep.Err == nil).IsTrue()
		})

		g.It("halts tasks that have not started after a critical failure", func() {
			tasks := []*Task{
				{Kind: KindToggle, Path: "/lib/x", Run: noop},
				{Kind: KindSyncApply, Path: "/lib/x", Critical: true, Run: func(ctx context.Context) error {
					return errors.New("sync failed")
				}},
				{Kind: KindToggle, Path: "/lib/x", Run: noop},
				{Kind: KindToggle, Path: "/lib/x", Run: noop},
			}

			rep := testExecutor(2, nil).Submit(context.Background(), tasks).Wait()
			g.Assert(rep.Results[0].Status).Equal(StatusSucceeded)
			g.Assert(rep.Results[1].Status).Equal(StatusFailed)
			g.Assert(rep.Results[2].Status).Equal(StatusSkipped)
			g.Assert(rep.Results[3].Status).Equal(StatusSkipped)
		})

		g.It("skips pending tasks on cancellation and lets the running one finish", func() {
			started := make(chan struct{})
			tasks := []*Task{
				{Kind: KindToggle, Path: "/lib/x", Run: noop},
				{Kind: KindToggle, Path: "/lib/x", Run: func(ctx context.Context) error {
					close(started)
					<-ctx.Done()
					return nil
				}},
				{Kind: KindToggle, Path: "/lib/x", Run: noop},
				{Kind: KindToggle, Path: "/lib/x", Run: noop},
				{Kind: KindToggle, Path: "/lib/x", Run: noop},
			}

			run := testExecutor(2, nil).Submit(context.Background(), tasks)
			<-started
			run.Cancel()
			rep := run.Wait()

			g.Assert(rep.Results[0].Status).Equal(StatusSucceeded)
			g.Assert(rep.Results[1].Status).Equal(StatusSucceeded)
			for _, res := range rep.Results[2:] {
				g.Assert(res.Status).Equal(StatusSkipped)
			}
		})

		g.It("treats an overrunning task as failed without aborting siblings", func() {
			e := &Executor{workers: 1, taskTimeout: 50 * time.Millisecond}
			tasks := []*Task{
				{Kind: KindBackupArchive, Path: "/lib/x", Run: func(ctx context.Context) error {
					time.Sleep(300 * time.Millisecond)
					return nil
				}},
				{Kind: KindToggle, Path: "/lib/x", Run: noop},
			}

			rep := e.Submit(context.Background(), tasks).Wait()
			g.Assert(rep.Results[0].Status).Equal(StatusFailed)
			g.Assert(strings.Contains(rep.Results[0].Error, "did not finish in time")).IsTrue()
			g.Assert(rep.Results[1].Status).Equal(StatusSucceeded)
		})
	})
}

func TestExecutorConcurrency(t *testing.T) {
	g := Goblin(t)

	g.Describe("path groups", func() {
		g.It("serializes tasks under the same subtree in plan order", func() {
			var mu sync.Mutex
			var seq []string
			step := func(name string) Func {
				return func(ctx context.Context) error {
					mu.Lock()
					seq = append(seq, name+" start")
					mu.Unlock()
					time.Sleep(20 * time.Millisecond)
					mu.Lock()
					seq = append(seq, name+" end")
					mu.Unlock()
					return nil
				}
			}
			tasks := []*Task{
				{Kind: KindToggle, Path: "/lib/x", Run: step("a")},
				{Kind: KindToggle, Path: "/lib/x/sub", Run: step("b")},
			}

			testExecutor(4, nil).Submit(context.Background(), tasks).Wait()
			g.Assert(seq).Equal([]string{"a start", "a end", "b start", "b end"})
		})

		g.It("runs tasks with disjoint roots in parallel", func() {
			unblock := make(chan struct{})
			tasks := []*Task{
				{Kind: KindToggle, Path: "/lib/a", Run: func(ctx context.Context) error {
					select {
					case <-unblock:
						return nil
					case <-time.After(2 * time.Second):
						return errors.New("never unblocked, tasks did not overlap")
					}
				}},
				{Kind: KindToggle, Path: "/lib/b", Run: func(ctx context.Context) error {
					close(unblock)
					return nil
				}},
			}

			rep := testExecutor(2, nil).Submit(context.Background(), tasks).Wait()
			g.Assert(rep.Results[0].Status).Equal(StatusSucceeded)
			g.Assert(rep.Results[1].Status).Equal(StatusSucceeded)
		})
	})

	g.Describe("groupTasks", func() {
		g.It("joins overlapping paths through a common ancestor", func() {
			tasks := []*Task{
				{Path: "/a/b"},
				{Path: "/c"},
				{Path: "/a"},
				{Path: "/a/c"},
			}
			g.Assert(groupTasks(tasks)).Equal([][]int{{0, 2, 3}, {1}})
		})

		g.It("keeps tasks without a path isolated", func() {
			tasks := []*Task{{Path: ""}, {Path: ""}, {Path: "/a"}}
			g.Assert(groupTasks(tasks)).Equal([][]int{{0}, {1}, {2}})
		})

		g.It("compares paths case-insensitively", func() {
			tasks := []*Task{{Path: "/Lib/Mods"}, {Path: "/lib/mods/sub"}}
			g.Assert(groupTasks(tasks)).Equal([][]int{{0, 1}})
		})
	})
}

func TestExecutorProgress(t *testing.T) {
	g := Goblin(t)

	g.Describe("progress reporting", func() {
		collect := func(ch chan events.Event) ([]Progress, *Report) {
			var progress []Progress
			for {
				select {
				case e := <-ch:
					switch e.Topic {
					case ProgressEvent:
						progress = append(progress, e.Data.(Progress))
					case CompletedEvent:
						return progress, e.Data.(*Report)
					}
				case <-time.After(2 * time.Second):
					return progress, nil
				}
			}
		}

		g.It("publishes progress per finished task and a terminal report", func() {
			bus := events.NewBus()
			ch := make(chan events.Event, 32)
			bus.On(ch)
			defer bus.Destroy()

			tasks := []*Task{
				{Kind: KindToggle, Path: "/lib/x", Run: noop},
				{Kind: KindToggle, Path: "/lib/x", Run: noop},
				{Kind: KindToggle, Path: "/lib/x", Run: noop},
			}
			testExecutor(1, bus).Submit(context.Background(), tasks).Wait()

			progress, rep := collect(ch)
			g.Assert(len(progress)).Equal(3)
			last := progress[len(progress)-1]
			g.Assert(last.Completed).Equal(3)
			g.Assert(last.Total).Equal(3)
			g.Assert(rep != nil).IsTrue()
			g.Assert(len(rep.Results)).Equal(3)
		})

		g.It("throttles intermediate progress but always reports the last task", func() {
			bus := events.NewBus()
			ch := make(chan events.Event, 32)
			bus.On(ch)
			defer bus.Destroy()

			e := New(config.WorkflowConfiguration{
				Workers:          1,
				TaskTimeout:      5,
				ProgressInterval: 10000,
			}, bus)
			tasks := []*Task{
				{Kind: KindToggle, Path: "/lib/x", Run: noop},
				{Kind: KindToggle, Path: "/lib/x", Run: noop},
				{Kind: KindToggle, Path: "/lib/x", Run: noop},
			}
			e.Submit(context.Background(), tasks).Wait()

			progress, rep := collect(ch)
			g.Assert(len(progress)).Equal(2)
			g.Assert(progress[len(progress)-1].Completed).Equal(3)
			g.Assert(rep != nil).IsTrue()
		})
	})
}
