package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/studioflow/docsync/internal/app"
	"github.com/studioflow/docsync/internal/config"
)

const usage = `usage: docsync <command> [args]

commands:
  run                 drain the offline queue until interrupted
  save <id> <file>    commit the file's contents as the next revision
  load <id>           print the current document payload
  status <id>         print the document's sync state
  queue               print queue and dead-letter counts
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx := context.Background()
	cfg := config.LoadConfig()
	a, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

	if err := dispatch(ctx, a, os.Args[1], os.Args[2:]); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, a *app.App, command string, args []string) error {
	eng := a.Engine()

	switch command {
	case "run":
		a.Run(ctx)
		return nil

	case "save":
		if len(args) != 2 {
			return fmt.Errorf("usage: docsync save <id> <file>")
		}
		payload, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		res, err := eng.Save(ctx, args[0], payload)
		if err != nil {
			return err
		}
		if res.Queued {
			fmt.Printf("queued for revision %d\n", res.Revision)
		} else {
			fmt.Printf("committed revision %d\n", res.Revision)
		}
		return nil

	case "load":
		if len(args) != 1 {
			return fmt.Errorf("usage: docsync load <id>")
		}
		res, err := eng.Load(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "revision %d (%s)\n", res.Revision, res.Source)
		_, err = os.Stdout.Write(res.Payload)
		return err

	case "status":
		if len(args) != 1 {
			return fmt.Errorf("usage: docsync status <id>")
		}
		st := eng.Status(args[0])
		fmt.Printf("status=%s revision=%d", st.Status, st.Revision)
		if !st.LastSyncedAt.IsZero() {
			fmt.Printf(" synced_at=%s", st.LastSyncedAt.Format("2006-01-02T15:04:05Z07:00"))
		}
		if st.LastError != "" {
			fmt.Printf(" error=%q", st.LastError)
		}
		fmt.Println()
		return nil

	case "queue":
		pending, dead, err := eng.QueueStats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("pending=%d dead_letters=%d\n", pending, dead)
		letters, err := eng.DeadLetters(ctx)
		if err != nil {
			return err
		}
		for _, dl := range letters {
			fmt.Printf("  %s document=%s attempts=%d failed_at=%s error=%q\n",
				dl.ID, dl.DocumentID, dl.AttemptCount,
				dl.FailedAt.Format("2006-01-02T15:04:05Z07:00"), dl.LastError)
		}
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}
