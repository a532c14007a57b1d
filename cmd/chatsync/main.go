package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"chatsync/internal/config"
	"chatsync/internal/util"
	"chatsync/pkg/blobstore"
	"chatsync/pkg/docstore"
	"chatsync/pkg/messages"
	"chatsync/pkg/profile"
	"chatsync/pkg/session"
	"chatsync/pkg/upload"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "chatsync",
		Short: "chatsync: real-time chat client",
		Long:  "chatsync keeps a live message window over a chat, pages into history, and sends messages with background attachment uploads.",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")

	root.AddCommand(registerCmd())
	root.AddCommand(loginCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(watchCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// stack is the wired component graph of one client process.
type stack struct {
	cfg      config.FileConfig
	logger   *slog.Logger
	docs     docstore.Store
	live     docstore.LiveQuerier
	feed     docstore.Feed
	blobs    blobstore.Store
	session  *session.Provider
	profiles *profile.Store
	tracker  *upload.Tracker
	uploader *upload.Uploader
	sync     *messages.Synchronizer
	composer *messages.Composer
}

func buildStack() (*stack, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := util.InitLogger(cfg.LogLevel, "chatsync")

	s := &stack{cfg: cfg, logger: logger}

	if cfg.DatabaseURL == "" {
		mem := docstore.NewMemoryStore()
		s.docs = mem
		s.live = mem
		s.feed = mem
	} else {
		var pub docstore.Publisher
		switch cfg.Feed {
		case "redis":
			feed := docstore.NewRedisFeed(cfg.RedisAddr, cfg.RedisPassword)
			pub = feed
			s.feed = feed
		case "amqp":
			feed, err := docstore.NewAMQPFeed(cfg.AMQPURL)
			if err != nil {
				return nil, err
			}
			pub = feed
			s.feed = feed
		default:
			return nil, fmt.Errorf("feed %q cannot span processes; use redis or amqp with a database", cfg.Feed)
		}
		gs, err := docstore.NewGormStore(cfg.DatabaseURL, pub)
		if err != nil {
			return nil, err
		}
		s.docs = gs
		s.live = docstore.Live{Store: gs, Feed: s.feed}
	}

	if cfg.Minio.Endpoint == "" {
		s.blobs = blobstore.NewMemoryStore("chatsync-local")
	} else {
		bs, err := blobstore.NewMinioStore(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Bucket, cfg.Minio.UseSSL)
		if err != nil {
			return nil, err
		}
		s.blobs = bs
	}

	var cache profile.Cache
	if cfg.RedisAddr != "" {
		cache = profile.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, 0)
	}

	// Credential lookup needs only the document store, which breaks
	// the session<->profile cycle.
	lookup := profile.New(s.docs, nil, nil, nil, nil)
	auth := session.NewPasswordAuthenticator(lookup.LookupByEmail, []byte(cfg.AuthSecret), 0)
	s.session = session.New(auth, auth.Keyfunc())
	s.profiles = profile.New(s.docs, s.feed, s.blobs, cache, s.session)

	if token, err := readToken(); err == nil && token != "" {
		s.session.Restore(token)
	}

	s.tracker = upload.NewTracker()
	s.uploader = upload.New(s.docs, s.blobs, s.tracker, logger)
	resolver := messages.NewResolver(s.profiles, s.blobs)
	s.sync = messages.NewSynchronizer(s.docs, s.live, resolver, messages.NewWindow(), util.NewSlogReporter(logger), logger)
	s.composer = messages.NewComposer(s.docs, s.blobs, s.uploader, s.session)
	return s, nil
}

func tokenPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".chatsync", "token"), nil
}

func readToken() (string, error) {
	path, err := tokenPath()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeToken(token string) error {
	path, err := tokenPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(token), 0o600)
}
