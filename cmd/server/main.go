// cmd/server/main.go
package main

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/openpark/lobbyd/internal/auth"
	"github.com/openpark/lobbyd/internal/cache"
	"github.com/openpark/lobbyd/internal/config"
	"github.com/openpark/lobbyd/internal/database"
	"github.com/openpark/lobbyd/internal/handlers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	auth.Init(cfg.TokenExpire)
	database.Connect(cfg.DatabaseURL())
	defer database.DB.Close()
	if err := cache.Connect(cfg.RedisAddr, cfg.RedisDB); err != nil {
		logger.Warnf("redis unavailable, audit queue and presence mirror disabled: %v", err)
	}

	srv := handlers.NewServer(database.NewStore(), cache.NewAuditQueue(), logger)

	server := &http.Server{
		Handler:      srv.Routes(),
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
	}

	l, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.Port))
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}
	logger.Infof("listening on %s", l.Addr())

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(l)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	select {
	case err := <-errc:
		logger.Errorf("failed to serve: %v", err)
	case sig := <-sigs:
		logger.Infof("terminating: %v", sig)
	}
}
