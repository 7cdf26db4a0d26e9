package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"roomalloc/backend/internal/allocation"
	"roomalloc/backend/internal/audit"
	"roomalloc/backend/internal/clock"
	"roomalloc/backend/internal/config"
	"roomalloc/backend/internal/storage"
	"roomalloc/backend/internal/topology"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const usage = `Usage: admin [flags] <command> [args]

Commands:
  rooms                     print every room with guests and locks
  revoke <room> <session>   remove a guest from a room
  gc                        drop expired invitations, join requests and locks
  audit                     print recent history (needs POSTGRES_DSN)

Flags:
`

func main() {
	room := flag.String("room", "", "narrow audit output to one room")
	limit := flag.Int("limit", 50, "number of audit events to print")
	timeout := flag.Duration("timeout", 30*time.Second, "overall command timeout")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	command := flag.Arg(0)
	if command == "audit" {
		if err := printAudit(ctx, cfg, *room, *limit); err != nil {
			log.Fatalf("Error reading history: %v", err)
		}
		return
	}

	engine, closeFn, err := newEngine(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer closeFn()

	switch command {
	case "rooms":
		if err := printRooms(ctx, engine); err != nil {
			log.Fatalf("Error listing rooms: %v", err)
		}
	case "revoke":
		if flag.NArg() != 3 {
			fmt.Println("Usage: admin revoke <room> <session>")
			os.Exit(1)
		}
		removed, err := engine.RemoveGuest(ctx, flag.Arg(1), flag.Arg(2))
		if err != nil {
			log.Fatalf("Error removing guest: %v", err)
		}
		if !removed {
			fmt.Printf("Session %s is not in room %s.\n", flag.Arg(2), flag.Arg(1))
			return
		}
		fmt.Printf("Session %s has been removed from room %s.\n", flag.Arg(2), flag.Arg(1))
	case "gc":
		res, err := engine.CollectExpired(ctx)
		if err != nil {
			log.Printf("collect finished with errors: %v", err)
		}
		fmt.Printf("Removed %d invitations, %d join requests, %d reservations, %d pending locks.\n",
			res.Invitations, res.JoinRequests, res.Reservations, res.PendingLocks)
	default:
		fmt.Println("Unknown command")
		flag.Usage()
		os.Exit(1)
	}
}

// newEngine connects to Redis only; admin commands never write history.
func newEngine(ctx context.Context, cfg *config.Config) (*allocation.Service, func(), error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, nil, err
	}
	topo, err := topology.Load(cfg.TopologyPath)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	kv := storage.NewRedisKV(rdb, cfg.RedisNamespace, cfg.CASMaxRetries, nil)
	engine := allocation.NewService(kv, topo, clock.Real{}, audit.Nop{}, allocation.OptionsFromConfig(cfg), nil)
	return engine, func() { _ = rdb.Close() }, nil
}

func printRooms(ctx context.Context, engine *allocation.Service) error {
	rooms, err := engine.Rooms(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROOM\tFLOOR\tGENDER\tGUESTS\tRESERVED BY\tPENDING FOR")
	for _, r := range rooms {
		names := make([]string, 0, len(r.Guests))
		for _, g := range r.Guests {
			names = append(names, fmt.Sprintf("%s (%s)", g.Name, g.SessionID))
		}
		reserved, pending := "-", "-"
		if r.Reservation != nil {
			reserved = r.Reservation.ReservedBy
		}
		if r.Pending != nil {
			pending = r.Pending.InviteeName
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%d/%d %s\t%s\t%s\n",
			r.ID, r.Floor, r.Gender, len(r.Guests), r.Capacity, strings.Join(names, ", "), reserved, pending)
	}
	return w.Flush()
}

func printAudit(ctx context.Context, cfg *config.Config, roomID string, limit int) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is not set")
	}
	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		return err
	}
	events, err := audit.NewGormSink(db).Recent(ctx, roomID, limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tROOM\tSESSION\tRECORD\tDETAIL")
	for _, ev := range events {
		detail := ev.Detail
		if len(ev.Warnings) > 0 {
			detail = strings.TrimSpace(detail + " [" + strings.Join(ev.Warnings, "; ") + "]")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.CreatedAt.Format(time.RFC3339), ev.Action, ev.RoomID, ev.SessionID, ev.RecordID, detail)
	}
	return w.Flush()
}
