package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	log "github.com/go-pkgz/lgr"
	flags "github.com/umputun/go-flags"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/trilakes/sitevisit/app/seed"
	"github.com/trilakes/sitevisit/app/store"
	"github.com/trilakes/sitevisit/app/web"
)

var opts struct {
	Listen  string `short:"l" long:"listen" env:"SITEVISIT_LISTEN" default:":5050" description:"listen address"`
	DB      string `long:"db" env:"SITEVISIT_DB" description:"sqlite connection string, empty selects file storage"`
	DataDir string `long:"data" env:"SITEVISIT_DATA" default:"./data" description:"data directory for file storage"`
	Secret  string `long:"secret" env:"SITEVISIT_SECRET" description:"session signing secret"`
	Seed    string `long:"seed" env:"SITEVISIT_SEED" description:"optional YAML file with a project created at startup"`

	Admin struct {
		Email  string `long:"email" env:"EMAIL" description:"admin login email"`
		Passwd string `long:"passwd" env:"PASSWD" description:"admin login password, empty disables auth"`
	} `group:"admin" namespace:"admin" env-namespace:"SITEVISIT_ADMIN"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename        string `long:"file" env:"FILE" default:"sitevisit.log" description:"log file name"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log size in megabytes"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of rotated files"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max age of rotated files in days"`
		EnabledCompress bool   `long:"compress" env:"COMPRESS" description:"compress rotated files"`
	} `group:"log" namespace:"log" env-namespace:"SITEVISIT_LOG"`

	Dbg bool `long:"dbg" env:"SITEVISIT_DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	fmt.Printf("sitevisit %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT and SIGTERM

	st, err := makeStore()
	if err != nil {
		log.Fatalf("[ERROR] failed to create store: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("[WARN] failed to close store: %v", err)
		}
	}()

	if opts.Seed != "" {
		def, err := seed.Load(opts.Seed)
		if err != nil {
			log.Fatalf("[ERROR] %v", err)
		}
		if err := seed.Apply(st, def, strings.ToLower(opts.Admin.Email)); err != nil {
			log.Fatalf("[ERROR] %v", err)
		}
		log.Printf("[INFO] seed project %s ensured", def.ID)
	}

	srv, err := web.New(web.Config{
		Store:        st,
		AdminEmail:   opts.Admin.Email,
		PasswordHash: makePasswordHash(),
		Secret:       opts.Secret,
		Version:      revision,
	})
	if err != nil {
		log.Fatalf("[ERROR] failed to create web server: %v", err)
	}

	if err := srv.Run(ctx, opts.Listen); err != nil {
		log.Fatalf("[ERROR] web server terminated, %v", err)
	}
}

// makeStore selects the storage backend once for the process lifetime:
// sqlite when a connection string is configured, flat files otherwise.
// A schema initialization failure is logged but does not abort startup.
func makeStore() (store.Interface, error) {
	if opts.DB == "" {
		log.Printf("[INFO] using file storage in %s", opts.DataDir)
		return store.NewFileStore(opts.DataDir)
	}

	log.Printf("[INFO] using sqlite storage at %s", opts.DB)
	db, err := store.NewSQLiteStore(opts.DB)
	if err != nil {
		return nil, err
	}
	if err := db.Initialize(); err != nil {
		log.Printf("[WARN] failed to initialize database schema: %v", err)
	}
	return db, nil
}

// makePasswordHash bcrypt-hashes the configured admin password, empty
// password disables authentication
func makePasswordHash() string {
	if opts.Admin.Passwd == "" {
		log.Printf("[WARN] admin password not set, authentication disabled")
		return ""
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Admin.Passwd), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[ERROR] failed to hash admin password: %v", err)
	}
	return string(hash)
}

func setupLogs() io.Writer {
	logOpts := []log.Option{log.Msec, log.LevelBraces}
	if opts.Dbg {
		logOpts = []log.Option{log.Debug, log.CallerFile, log.CallerFunc, log.Msec, log.LevelBraces}
	}

	if !opts.Log.Enabled {
		log.Setup(logOpts...)
		return os.Stdout
	}

	fileWriter := &lumberjack.Logger{
		Filename:   opts.Log.Filename,
		MaxSize:    opts.Log.MaxSize,
		MaxBackups: opts.Log.MaxBackups,
		MaxAge:     opts.Log.MaxAge,
		Compress:   opts.Log.EnabledCompress,
	}
	logOpts = append(logOpts, log.Out(fileWriter))
	log.Setup(logOpts...)
	return fileWriter
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			cancel() // terminate on SIGTERM/SIGINT
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}
