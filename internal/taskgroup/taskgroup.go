// 包 taskgroup：并发执行一组互不依赖的任务，等待全部完成后按提交顺序返回每个任务的结果
// 背景：下载/解码等按单元独立的工作不能因为某个单元失败而中断兄弟任务。
// 约束：不做取消传播；ctx 被取消后尚未开始的任务直接以 ctx.Err() 结束。
package taskgroup

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Result：单个任务的结果，Err 为空表示成功
type Result[T any] struct {
	Name  string
	Value T
	Err   error
}

type Results[T any] []Result[T]

// Err：聚合所有失败任务的错误，全部成功时返回 nil
func (rs Results[T]) Err() error {
	var errs []error
	for _, r := range rs {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Err))
		}
	}
	return errors.Join(errs...)
}

func (rs Results[T]) Failed() int {
	n := 0
	for _, r := range rs {
		if r.Err != nil {
			n++
		}
	}
	return n
}

type task[T any] struct {
	name string
	fn   func(ctx context.Context) (T, error)
}

// Group：收集任务后由 Wait 统一调度
type Group[T any] struct {
	limit int
	tasks []task[T]
}

// New：limit <= 0 表示不限制并发数
func New[T any](limit int) *Group[T] {
	return &Group[T]{limit: limit}
}

func (g *Group[T]) Go(name string, fn func(ctx context.Context) (T, error)) {
	g.tasks = append(g.tasks, task[T]{name: name, fn: fn})
}

// Wait：启动 worker 消费任务队列，全部结束后返回；任务 panic 记为该任务的错误
func (g *Group[T]) Wait(ctx context.Context) Results[T] {
	out := make(Results[T], len(g.tasks))
	workers := g.limit
	if workers <= 0 || workers > len(g.tasks) {
		workers = len(g.tasks)
	}
	jobs := make(chan int, len(g.tasks))
	for i := range g.tasks {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = g.run(ctx, g.tasks[i])
			}
		}()
	}
	wg.Wait()
	return out
}

func (g *Group[T]) run(ctx context.Context, t task[T]) (res Result[T]) {
	res.Name = t.name
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("panic: %v", p)
		}
	}()
	res.Value, res.Err = t.fn(ctx)
	return res
}
