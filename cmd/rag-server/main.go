// Package main RAG Engine API Server
//
//	@title			RAG Engine API
//	@version		1.0
//	@description	Document ingestion and hybrid retrieval core: lane-based processing, dense + BM25 + late-interaction search, and a realtime status plane
//
//	@contact.name	API Support
//
//	@license.name	Apache 2.0
//	@license.url	http://www.apache.org/licenses/LICENSE-2.0.html
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	_ "rag-engine/docs" // swagger docs registration
	"rag-engine/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	srv, err := server.New(context.Background())
	if err != nil {
		log.Fatalf("Failed to initialize server: %v", err)
	}
	if err := srv.Run(); err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
}
