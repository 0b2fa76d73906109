package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shashiranjanraj/kashvi-query/config"
	khttp "github.com/shashiranjanraj/kashvi-query/pkg/http"
	"github.com/shashiranjanraj/kashvi-query/pkg/qkey"
	"github.com/shashiranjanraj/kashvi-query/pkg/query"
	"github.com/shashiranjanraj/kashvi-query/pkg/queryclient"
	"github.com/shashiranjanraj/kashvi-query/pkg/store"
)

var prefetchCountFlag int

type todo struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

func (t todo) RecordID() string { return fmt.Sprintf("%d", t.ID) }

// qcachebench prefetch — warm the cache for N todos concurrently, using
// PrefetchMany's bounded workerpool fan-out.
var prefetchCmd = &cobra.Command{
	Use:   "prefetch",
	Short: "Warm the cache for a batch of todos via PrefetchMany",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(); err != nil {
			return err
		}

		client := queryclient.New(store.NewMemoryStore(), config.QueryStaleDuration(), config.QueryCacheDuration())
		defer client.DisposeAll()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		jobs := make([]queryclient.PrefetchJob, 0, prefetchCountFlag)
		for i := 1; i <= prefetchCountFlag; i++ {
			id := i
			jobs = append(jobs, func(ctx context.Context) error {
				opts := query.NewOptions(query.Identity[todo])
				key := qkey.New("todos", id)
				fetch := func(fc query.FetchContext) (todo, error) {
					url := fmt.Sprintf("https://jsonplaceholder.typicode.com/todos/%d", id)
					resp, err := khttp.Get(url).WithContext(fc.Ctx).Timeout(5 * time.Second).Send()
					if err != nil {
						return todo{}, err
					}
					if err := resp.Throw(); err != nil {
						return todo{}, err
					}
					var t todo
					return t, resp.JSON(&t)
				}
				return queryclient.Prefetch(ctx, client, key, fetch, opts)
			})
		}

		start := time.Now()
		if err := queryclient.PrefetchMany(ctx, 4, jobs); err != nil {
			return fmt.Errorf("prefetch: %w", err)
		}

		queries, _, _ := client.EntryCount()
		fmt.Printf("✅ prefetched %d todos in %s\n", queries, time.Since(start))
		return nil
	},
}

func init() {
	prefetchCmd.Flags().IntVarP(&prefetchCountFlag, "count", "n", 10, "Number of todos to prefetch")
}
