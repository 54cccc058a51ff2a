//cmd/seeder/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/unclebandit/outreach-delivery/internal/config"
	"github.com/unclebandit/outreach-delivery/internal/db"
	"github.com/unclebandit/outreach-delivery/internal/logging"
	"github.com/unclebandit/outreach-delivery/internal/model"
	"github.com/unclebandit/outreach-delivery/internal/queue"
	"github.com/unclebandit/outreach-delivery/internal/repository"
	"github.com/unclebandit/outreach-delivery/internal/store"
)

var contacts = []store.Row{
	{"email": "ada@example.com", "first_name": "Ada", "last_name": "Byron", "company": "Analytical Engines", "title": "CTO"},
	{"email": "grace@example.com", "first_name": "Grace", "last_name": "Hopper", "company": "Compilers Inc", "title": "VP Engineering"},
	{"email": "linus@example.com", "first_name": "Linus", "company": "Kernel Works"},
}

func main() {
	cfg, err := config.Load(os.Getenv("OUTREACH_CONFIG"))
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	ctx := context.Background()

	conn, err := db.Open(ctx, cfg.Database.URL, db.DefaultOptions(), logger)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}
	fmt.Println("Schema applied")

	st := store.NewPostgresStore(conn)
	campaignID := uuid.NewString()
	if err := st.AppendRows(ctx, store.TableCampaigns, []store.Row{
		{"id": campaignID, "name": "Q4 intro sequence", "approval_status": model.ApprovalApproved},
	}); err != nil {
		log.Fatalf("failed to seed campaign: %v", err)
	}
	if err := st.AppendRows(ctx, store.TableContacts, contacts); err != nil {
		log.Fatalf("failed to seed contacts: %v", err)
	}
	fmt.Printf("Seeded: campaign %s and %d contacts\n", campaignID, len(contacts))

	msgs := make([]*model.QueuedMessage, 0, len(contacts))
	ids := make([]string, 0, len(contacts))
	for _, c := range contacts {
		msg := &model.QueuedMessage{
			ID:           uuid.NewString(),
			CampaignID:   campaignID,
			Recipient:    c["email"].(string),
			Subject:      "Quick question, {first_name|there}",
			Body:         "Hi {first_name|there},\n\nCurious how **{company|your team}** handles outbound today.",
			SequenceStep: 1,
			Status:       model.StatusQueued,
		}
		msgs = append(msgs, msg)
		ids = append(ids, msg.ID)
	}
	if err := (&repository.MessageRepository{Store: st}).Enqueue(ctx, msgs...); err != nil {
		log.Fatalf("failed to seed queue: %v", err)
	}
	fmt.Printf("Seeded: %d queued messages\n", len(msgs))

	if cfg.AMQP.URL != "" {
		if err := queue.NotifyEnqueued(cfg.AMQP.URL, cfg.AMQP.Queue, ids); err != nil {
			log.Printf("failed to notify workers, they will pick the rows up on their next poll: %v", err)
		}
	}

	fmt.Println("Database seeding completed successfully!")
}
