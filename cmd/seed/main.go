package main

import (
	"context"
	"flag"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zdex/evcpms/internal/config"
	"github.com/zdex/evcpms/internal/db"
	"github.com/zdex/evcpms/internal/decimal"
	"github.com/zdex/evcpms/internal/logging"
	"github.com/zdex/evcpms/internal/models"
	"github.com/zdex/evcpms/internal/repo"
)

func main() {
	path := flag.String("file", "seed.yaml", "YAML fixture with stations, users and tariffs")
	flag.Parse()

	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	in, err := os.Open(*path)
	if err != nil {
		log.WithError(err).Fatal("open fixture")
	}
	defer in.Close()
	fx, err := parseFixture(in)
	if err != nil {
		log.WithError(err).Fatal("invalid fixture")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}
	defer d.Close()
	if err := d.Migrate(ctx); err != nil {
		log.WithError(err).Fatal("schema migration failed")
	}

	stations := repo.NewStationsRepo(d.Pool)
	connectors := repo.NewConnectorsRepo(d.Pool)
	tariffs := repo.NewTariffsRepo(d.Pool)
	users := repo.NewUsersRepo(d.Pool)
	wallets := repo.NewWalletsRepo(d.Pool)
	shares := repo.NewRevenueShareRepo(d.Pool)

	if fx.RevenueShare != nil {
		if err := shares.Set(ctx, *fx.RevenueShare); err != nil {
			log.WithError(err).Fatal("seed revenue share")
		}
	}

	for _, sf := range fx.Stations {
		stationID, err := stations.Upsert(ctx, sf.station())
		if err != nil {
			log.WithError(err).WithField("identity", sf.Identity).Fatal("seed station")
		}
		for _, cf := range sf.Connectors {
			power := cf.PowerKw
			if power.IsZero() {
				power = decimal.MustNew("7.4")
			}
			if err := connectors.Upsert(ctx, models.Connector{StationID: stationID, Number: cf.Number, PowerKw: power}); err != nil {
				log.WithError(err).WithField("identity", sf.Identity).Fatal("seed connector")
			}
		}
		if tf := sf.Tariff; tf != nil {
			currency := tf.Currency
			if currency == "" {
				currency = "COP"
			}
			if _, err := tariffs.UpsertActiveForStation(ctx, models.Tariff{
				StationID:      stationID,
				PricePerKwh:    tf.PricePerKwh,
				PricePerMinute: tf.PricePerMinute,
				SessionFee:     tf.SessionFee,
				Currency:       currency,
			}); err != nil {
				log.WithError(err).WithField("identity", sf.Identity).Fatal("seed tariff")
			}
		}
		log.WithField("identity", sf.Identity).WithField("station", stationID).Info("seeded station")
	}

	for _, uf := range fx.Users {
		userID, err := users.Upsert(ctx, uf.user())
		if err != nil {
			log.WithError(err).WithField("tag", uf.IDTag).Fatal("seed user")
		}
		if uf.Balance != nil {
			if err := wallets.SetBalance(ctx, userID, *uf.Balance); err != nil {
				log.WithError(err).WithField("tag", uf.IDTag).Fatal("seed wallet")
			}
		}
		log.WithField("tag", uf.IDTag).WithField("user", userID).Info("seeded user")
	}
}
