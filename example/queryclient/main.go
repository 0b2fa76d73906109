// Command queryclient-example wires a QueryClient to a real HTTP API
// using pkg/http's fluent client as the fetch function, the way an
// application (rather than a test) would use this library.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	khttp "github.com/shashiranjanraj/kashvi-query/pkg/http"
	"github.com/shashiranjanraj/kashvi-query/pkg/qkey"
	"github.com/shashiranjanraj/kashvi-query/pkg/query"
	"github.com/shashiranjanraj/kashvi-query/pkg/queryclient"
	"github.com/shashiranjanraj/kashvi-query/pkg/store"
)

type todo struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

func (t todo) RecordID() string { return fmt.Sprintf("%d", t.ID) }

func fetchTodo(id int) query.FetchFunc[todo] {
	return func(fc query.FetchContext) (todo, error) {
		url := fmt.Sprintf("https://jsonplaceholder.typicode.com/todos/%d", id)
		resp, err := khttp.Get(url).WithContext(fc.Ctx).Timeout(5 * time.Second).Retry(3, 500*time.Millisecond).Send()
		if err != nil {
			return todo{}, err
		}
		if err := resp.Throw(); err != nil {
			return todo{}, err
		}
		var t todo
		if err := resp.JSON(&t); err != nil {
			return todo{}, err
		}
		return t, nil
	}
}

func main() {
	client := queryclient.New(store.NewMemoryStore(), time.Minute, time.Hour)
	defer client.DisposeAll()

	opts := query.NewOptions(query.Identity[todo])
	opts.StaleDuration = 30 * time.Second

	key := qkey.New("todos", 1)
	q := queryclient.UseQuery(client, key, fetchTodo(1), opts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.WaitHydrated(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "hydration wait:", err)
		os.Exit(1)
	}

	unsub := q.StatusSignal.Subscribe(func(s query.Status) {
		fmt.Println("status:", s)
	})
	defer unsub()

	if _, err := q.Refetch(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "refetch:", err)
		os.Exit(1)
	}

	data, ok := q.Data()
	if !ok {
		fmt.Fprintln(os.Stderr, "no data after refetch")
		os.Exit(1)
	}
	fmt.Printf("todo #%d: %q (completed=%v)\n", data.ID, data.Title, data.Completed)
}
