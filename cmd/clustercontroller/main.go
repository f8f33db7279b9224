// Command clustercontroller wires the Local Capabilities Directory's
// collaborators into a running LcdService and blocks until signalled to
// shut down.
//
// Grounded on the teacher's core/cmd/example/main.go: construct
// collaborators, initialize, start, wait.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/M0rious/joynr/access"
	"github.com/M0rious/joynr/config"
	"github.com/M0rious/joynr/directory"
	"github.com/M0rious/joynr/gcd"
	"github.com/M0rious/joynr/logger"
	"github.com/M0rious/joynr/participantstore"
	"github.com/M0rious/joynr/pendinglookups"
	"github.com/M0rious/joynr/router"
	"github.com/M0rious/joynr/sequencer"
	"github.com/M0rious/joynr/service"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("loading settings: %v", err)
	}
	if path := os.Getenv("JOYNR_SETTINGS_FILE"); path != "" {
		if err := config.LoadFile(path, cfg); err != nil {
			log.Fatalf("loading settings file: %v", err)
		}
	}

	lg := logger.NewDefaultLogger()
	lg.Info("starting cluster controller", map[string]interface{}{
		"cluster_controller_id": cfg.ClusterControllerID,
		"known_gbids":           cfg.KnownGbids,
	})

	redisURLs := make(map[string]string, len(cfg.KnownGbids))
	for _, gbid := range cfg.KnownGbids {
		redisURLs[gbid] = cfg.RedisURLFor(gbid)
	}
	transport, err := gcd.NewRedisTransport(redisURLs, cfg.Namespace, lg)
	if err != nil {
		log.Fatalf("constructing redis transport: %v", err)
	}

	store := directory.New(lg)
	seq := sequencer.New()
	client := gcd.NewClient(transport, seq, cfg.KnownGbids, gcd.DefaultRetryPolicy(), lg)
	pending := pendinglookups.New()
	rtr := router.NewInMemoryRouter()
	acc := access.AllowAll{}
	participants := participantstore.NewInMemoryStore(nil)

	localAddress := "joynr://" + cfg.ClusterControllerID

	svc := service.New(cfg, store, seq, client, pending, rtr, acc, participants, lg, localAddress)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.RemoveStaleProvidersOfClusterController(ctx, time.Now().UnixMilli())
	svc.StartTimers(ctx)

	lg.Info("cluster controller ready", map[string]interface{}{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	lg.Info("shutting down cluster controller", map[string]interface{}{})
	svc.Shutdown()
}
