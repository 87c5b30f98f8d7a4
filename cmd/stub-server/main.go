package main

import (
	"log"
	"time"

	"github.com/joho/godotenv"

	"chat-console-core/internal/credential"
	"chat-console-core/internal/env"
	"chat-console-core/internal/model"
	"chat-console-core/internal/stubserver"
)

func main() {
	_ = godotenv.Load()

	secret := env.MustGet(env.StubTokenSecret)
	server := stubserver.NewServer(stubserver.Config{
		ListenAddr:  env.GetOrDefault(env.StubListenAddr, ":8090"),
		TokenSecret: secret,
		RedisURL:    env.Get(env.StubRedisURL),
		RedisPass:   env.Get(env.StubRedisPass),
	})

	botID := env.GetOrDefault(env.WidgetBotID, "bot-dev")
	server.Store().RegisterBot(botID)
	server.Store().SetAvailability(model.AgentAvailable)

	// Print ready-to-use dev tokens so the client binaries can be pointed at
	// this process without any extra tooling.
	for _, role := range []credential.Role{credential.RoleVisitor, credential.RoleTenant, credential.RoleAgent} {
		token, err := stubserver.MintToken(secret, role, server.TenantID(), string(role)+"-dev", 24*time.Hour)
		if err != nil {
			log.Fatalf("mint %s token: %v", role, err)
		}
		log.Printf("dev token (%s): %s", role, token)
	}
	log.Printf("registered bot %s", botID)

	if err := server.Run(); err != nil {
		log.Fatalf("stub server stopped: %v", err)
	}
}
