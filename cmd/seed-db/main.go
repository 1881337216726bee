// Command seed-db migrates the database, loads the product catalog and
// provisions the operator API key.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/product"
	"github.com/xenking/marketplace/internal/handler"
	"github.com/xenking/marketplace/internal/storage/postgres"
)

type options struct {
	databaseURL  string
	productsFile string
	apiKey       string
	apiKeyPepper string

	// Development buyer token.
	jwtSecret     string
	buyerID       int64
	buyerUsername string
	tokenTTL      time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.productsFile, "products-file", "db/seed/products.json", "path to products JSON file, optionally .gz")
	flag.StringVar(&opts.apiKey, "api-key", "", "operator API key to seed (or MARKET_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or MARKET_API_KEY_PEPPER env)")
	flag.StringVar(&opts.jwtSecret, "jwt-secret", "", "print a buyer token signed with this secret (or MARKET_JWT_SECRET env)")
	flag.Int64Var(&opts.buyerID, "buyer-id", 0, "buyer id for the printed token")
	flag.StringVar(&opts.buyerUsername, "buyer-username", "dev", "buyer username for the printed token")
	flag.DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "lifetime of the printed token")
	flag.Parse()

	opts.databaseURL = orEnv(opts.databaseURL, "DATABASE_URL")
	opts.apiKey = orEnv(opts.apiKey, "MARKET_SEED_API_KEY")
	opts.apiKeyPepper = orEnv(opts.apiKeyPepper, "MARKET_API_KEY_PEPPER")
	opts.jwtSecret = orEnv(opts.jwtSecret, "MARKET_JWT_SECRET")

	lg, err := zap.NewDevelopment()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if opts.apiKey == "" || opts.apiKeyPepper == "" {
		lg.Fatal("API key and pepper are required: set --api-key and --api-key-pepper")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")

	if opts.jwtSecret != "" && opts.buyerID > 0 {
		token, err := handler.SignBuyerToken([]byte(opts.jwtSecret),
			auth.Buyer{ID: opts.buyerID, Username: opts.buyerUsername},
			opts.tokenTTL, time.Now(),
		)
		if err != nil {
			lg.Fatal("Sign buyer token", zap.Error(err))
		}
		fmt.Println(token)
	}
}

func orEnv(v, key string) string {
	if v != "" {
		return v
	}
	return os.Getenv(key)
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products, err := readProducts(opts.productsFile)
	if err != nil {
		return errors.Wrap(err, "read products")
	}

	repo := postgres.NewProductRepository(pool)
	lg.Info("Upserting products", zap.Int("count", len(products)))
	for _, p := range products {
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		lg.Debug("Upserted product", zap.String("id", p.ID), zap.String("title", p.Title))
	}

	keys := postgres.NewAPIKeyRepository(pool)
	if err := keys.Upsert(ctx, auth.APIKeyInfo{
		ID:      "seed-fulfillment",
		KeyHash: handler.HashAPIKey([]byte(opts.apiKeyPepper), opts.apiKey),
		Name:    "Seeded fulfillment key",
		Scopes:  []string{auth.ScopeFulfillment},
	}); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	lg.Info("Seeded API key", zap.String("scope", auth.ScopeFulfillment))
	return nil
}

// readProducts loads the catalog from path. Files ending in .gz are
// decompressed on the fly.
func readProducts(path string) ([]product.Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "gzip")
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}
	return parseProducts(r)
}

// parseProducts decodes a JSON array of {"id","title","price"} objects.
// Prices are decimal strings.
func parseProducts(r io.Reader) ([]product.Product, error) {
	var products []product.Product
	d := jx.Decode(r, 4096)
	err := d.Arr(func(d *jx.Decoder) error {
		var (
			p     product.Product
			price string
		)
		if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "id":
				p.ID, err = d.Str()
			case "title":
				p.Title, err = d.Str()
			case "price":
				price, err = d.Str()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}

		if p.ID == "" {
			return errors.Errorf("product #%d: empty id", len(products))
		}
		dec, err := decimal.NewFromString(price)
		if err != nil {
			return errors.Wrapf(err, "product %s: price", p.ID)
		}
		if dec.IsNegative() {
			return errors.Errorf("product %s: negative price", p.ID)
		}
		p.Price = dec
		products = append(products, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	return products, nil
}
