package bot

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/callummance/nia-roles/config"
	"github.com/callummance/nia-roles/db"
	"github.com/callummance/nia-roles/discord"
	"github.com/callummance/nia-roles/httpapi"
	"github.com/callummance/nia-roles/reconcile"
	"github.com/sirupsen/logrus"
)

//NiaBot represents an instance of the discord bot, containing handles to the various external connections.
type NiaBot struct {
	cfg *config.Config

	DiscordConnection *discord.EventSource
	Platform          *discord.Platform
	Store             db.BindingStore
	Engine            *reconcile.Engine

	api *http.Server
}

//Init creates a new NiaBot instance. Nothing connects to discord until Run is called.
func Init(ctx context.Context, cfg *config.Config) (*NiaBot, error) {
	res := NiaBot{cfg: cfg}
	//Open binding storage
	store, err := db.Open(ctx, cfg.Storage)
	if err != nil {
		logrus.Errorf("Cannot start bot due to error opening %v binding storage: %v", cfg.Storage.Backend, err)
		return nil, err
	}

	//Create discord session
	disc, err := discord.NewEventSource(cfg.Discord.Token)
	if err != nil {
		logrus.Errorf("Cannot start bot due to error initializing discord connection: %v", err)
		_ = store.Close()
		return nil, err
	}

	res.Store = store
	res.DiscordConnection = disc
	res.Platform = discord.NewPlatform(disc.Session())
	res.Engine = reconcile.New(res.Platform, store, NewChannelNotifier(disc.Session(), cfg.Discord.NotifyChannel), reconcile.Options{
		Debounce:       cfg.Engine.Debounce,
		RequestTimeout: cfg.Engine.RequestTimeout,
	})
	if cfg.HTTP.Listen != "" {
		res.api = &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           httpapi.NewRouter(res.Engine),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return &res, nil
}

//Run starts the engine, connects to discord and blocks until ctx is cancelled. The binding table is flushed to storage
//before Run returns.
func (b *NiaBot) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- b.Engine.Run(ctx)
	}()

	if err := b.DiscordConnection.Start(b, b.Engine); err != nil {
		cancel()
		<-engineDone
		return err
	}

	if b.api != nil {
		go func() {
			logrus.Infof("Serving status API on %v", b.api.Addr)
			if err := b.api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.Errorf("Status API stopped: %v", err)
			}
		}()
	}

	<-ctx.Done()
	logrus.Info("Terminating bot...")
	if b.api != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = b.api.Shutdown(shutdownCtx)
	}
	b.DiscordConnection.Close()
	if err := <-engineDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

//BotAddURL generates a URL that can be used to add the bot to a server
func (b *NiaBot) BotAddURL() (*url.URL, error) {
	return b.DiscordConnection.BotAddURL()
}

//DiscordSession returns a handle to the underlying discord session
func (b *NiaBot) DiscordSession() *discordgo.Session {
	return b.DiscordConnection.Session()
}

//Close releases the binding storage. Call it after Run has returned.
func (b *NiaBot) Close() {
	if err := b.Store.Close(); err != nil {
		logrus.Warnf("Failed to close binding storage: %v", err)
	}
}
