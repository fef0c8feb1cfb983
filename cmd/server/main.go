package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"github.com/dfryer1193/photofeed/gallery/application"
	"github.com/dfryer1193/photofeed/gallery/domain"
	"github.com/dfryer1193/photofeed/gallery/persistence"
	"github.com/dfryer1193/photofeed/internal/middleware"
	"github.com/dfryer1193/photofeed/internal/rest"
	"github.com/dfryer1193/photofeed/shared/auth"
	"github.com/dfryer1193/photofeed/shared/config"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg := config.FromEnv()
	if cfg.ProjectID == "" || cfg.Bucket == "" {
		log.Fatal().Msg("PHOTOFEED_GCP_PROJECT and PHOTOFEED_BUCKET must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	records, err := persistence.NewFirestoreRecordStore(ctx, cfg.ProjectID, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Firestore")
	}
	defer records.Close()

	blobs, err := persistence.NewGCSBlobStore(ctx, cfg.Bucket, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Cloud Storage")
	}
	defer blobs.Close()

	index, err := application.NewImageIndex()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build image index")
	}
	owners := application.NewOwnerCache(records, application.WithResolveTimeout(cfg.ResolveTimeout))
	hub := rest.NewEventHub()

	resubscribe := make(chan struct{}, 1)
	syncOpts := []application.SynchronizerOption{
		application.WithFeedErrorFunc(func(feed domain.Feed, err error) {
			select {
			case resubscribe <- struct{}{}:
			default:
			}
		}),
	}
	if cfg.DropLateEvents {
		syncOpts = append(syncOpts, application.WithDropLateEvents())
	}

	synchronizer := application.NewSynchronizer(records, blobs, owners, index, hub, syncOpts...)
	defer synchronizer.Stop()

	if err := synchronizer.Start(ctx, application.Session{}); err != nil {
		log.Fatal().Err(err).Msg("Failed to start view synchronization")
	}

	provider := auth.NewGithubProvider()
	go watchSessions(ctx, provider, records, synchronizer, resubscribe)

	library := application.NewLibraryService(records, blobs)
	gallery := rest.NewGalleryHandler(library, synchronizer, index, owners, provider, hub)

	router := gin.New()
	router.Use(middleware.LoggingMiddleware())
	router.Use(gin.CustomRecovery(middleware.HandlePanics()))
	rest.NewApi(router, gallery)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		log.Info().Msg("Starting server on port :" + fmt.Sprint(cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Failed to shutdown server")
	}

	log.Info().Msg("Server stopped")
}

// watchSessions reacts to auth changes and feed failures: a sign-in
// upserts the user's profile and restarts the synchronizer with the new
// session, a sign-out falls back to the anonymous session, and a feed
// failure re-establishes the current session with backoff.
func watchSessions(ctx context.Context, provider *auth.GithubProvider, records domain.RecordStore, synchronizer *application.Synchronizer, resubscribe <-chan struct{}) {
	restart := func() {
		user, _ := provider.Current()
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = 2 * time.Minute

		operation := func() error {
			return synchronizer.Start(ctx, application.Session{User: user})
		}
		if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
			log.Error().Err(err).Msg("Failed to re-establish feed subscriptions")
		}
	}

	for {
		select {
		case identity := <-provider.Changes():
			if identity != nil {
				if err := records.PutProfile(ctx, identity.Profile()); err != nil {
					log.Error().Err(err).Str("uid", identity.UID).Msg("Failed to save profile on sign-in")
				}
			}
			restart()
		case <-resubscribe:
			restart()
		case <-ctx.Done():
			return
		}
	}
}
