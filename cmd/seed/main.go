package main

import (
	"context"
	"flag"
	"log"

	"research-chat-be/internal/bootstrap"
	"research-chat-be/internal/config"
	"research-chat-be/internal/pkg/logger"
	"research-chat-be/internal/repository/implementation"
	"research-chat-be/internal/repository/memory"
	"research-chat-be/internal/repository/specification"
	"research-chat-be/internal/repository/unitofwork"
	"research-chat-be/pkg/database"
	"research-chat-be/pkg/embedding"
)

// seed loads a JSON corpus into the pgvector tables, embedding passages that carry no vector
func main() {
	cfg := config.Load()
	corpusFile := flag.String("corpus", cfg.Chat.CorpusFile, "path to the JSON corpus")
	flag.Parse()

	if cfg.Database.Connection == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}
	db, err := database.NewGormDBFromDSN(cfg.Database.Connection, false)
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	corpus, err := memory.ReadCorpus(*corpusFile)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	provider := bootstrap.NewEmbeddingProvider(cfg, logger.NewNopLogger())
	byDocument := make(map[string][]memory.CorpusPassage)
	for _, p := range corpus.Passages {
		byDocument[p.DocumentID] = append(byDocument[p.DocumentID], p)
	}

	ctx := context.Background()
	factory := unitofwork.NewRepositoryFactory(db)
	passages := implementation.NewPassageRepository(db)
	seeded := 0
	for _, doc := range corpus.Documents {
		uow := factory.NewUnitOfWork(ctx)
		if err := uow.Begin(ctx); err != nil {
			log.Fatalf("Error: begin transaction: %v", err)
		}

		if err := uow.DocumentRepository().Upsert(ctx, doc.Document); err != nil {
			_ = uow.Rollback()
			log.Fatalf("Error: upsert document %s: %v", doc.ID, err)
		}

		for i, cp := range byDocument[doc.ID] {
			vec := cp.Embedding
			if len(vec) == 0 {
				resp, err := provider.Generate(ctx, cp.Text, embedding.TaskRetrievalDocument)
				if err != nil {
					_ = uow.Rollback()
					log.Fatalf("Error: embed passage %s: %v", cp.PassageID, err)
				}
				vec = resp.Embedding.Values
			}
			if err := uow.PassageRepository().Upsert(ctx, cp.Passage, embedding.Normalize(vec), i); err != nil {
				_ = uow.Rollback()
				log.Fatalf("Error: upsert passage %s: %v", cp.PassageID, err)
			}
			seeded++
		}

		if err := uow.Commit(); err != nil {
			log.Fatalf("Error: commit document %s: %v", doc.ID, err)
		}

		stored, err := passages.Count(ctx, specification.ByDocument{DocumentID: doc.ID})
		if err != nil {
			log.Printf("Warn: count passages of %s: %v", doc.ID, err)
		}
		log.Printf("Seeded %s (%d passages, %d stored)", doc.ID, len(byDocument[doc.ID]), stored)
	}

	log.Printf("Corpus seeding completed: %d documents, %d passages", len(corpus.Documents), seeded)
}
