package main

import (
	"context"
	"errors"
	"fmt"
	"log" //nolint:depguard // non-o11y log is allowed for a top-level fatal
	"time"
	_ "time/tzdata" // include embedded timezone data

	"github.com/alecthomas/kong"
	"github.com/gwatts/rootcerts"

	"github.com/grugmq/redeployer/config/secret"
	"github.com/grugmq/redeployer/controlchannel"
	"github.com/grugmq/redeployer/deploy"
	"github.com/grugmq/redeployer/httpserver/healthcheck"
	"github.com/grugmq/redeployer/o11y"
	"github.com/grugmq/redeployer/process"
	"github.com/grugmq/redeployer/repository"
	"github.com/grugmq/redeployer/rundef"
	"github.com/grugmq/redeployer/system"
	"github.com/grugmq/redeployer/termination"
)

// Set at build time with -ldflags
var (
	Version = "dev"
	Date    = "unknown"
)

type cli struct {
	RepoDir      string   `env:"REPO_DIR" default:"./grugmq" help:"The git checkout to pull, build and run from"`
	PullCommand  []string `env:"PULL_COMMAND" default:"git pull" sep:" " help:"Command that fetches new code into the checkout"`
	BuildCommand []string `env:"BUILD_COMMAND" default:"cargo build --release" sep:" " help:"Command that builds the checkout"`

	ChildName    string        `env:"CHILD_NAME" default:"grugmq" help:"Name used to prefix the child's console output"`
	ChildCommand []string      `env:"CHILD_COMMAND" default:"./target/release/grugmq" sep:" " help:"Command that runs the built child, relative to the checkout"`
	ChildPort    string        `env:"CHILD_PORT" default:"80" help:"Port passed to the child as its last argument"`
	ChildColour  bool          `env:"CHILD_COLOUR" default:"true" help:"Colour the prefix of relayed child output"`
	StopTimeout  time.Duration `env:"STOP_TIMEOUT" default:"10s" help:"How long the child gets to exit after SIGTERM before it is killed"`

	ControlURL           string        `env:"CONTROL_URL" default:"https://grugmq.com" help:"Base URL of the deployment control service"`
	ControlTimeout       time.Duration `env:"CONTROL_TIMEOUT" default:"10s" help:"Timeout for each control channel request"`
	ControlReadRoute     string        `env:"CONTROL_READ_ROUTE" default:"/v1/deploy/read"`
	ControlWriteRoute    string        `env:"CONTROL_WRITE_ROUTE" default:"/v1/deploy/write/%s"`
	ControlRedisAddr     string        `env:"CONTROL_REDIS_ADDR" help:"Use this redis instead of the control service, if set"`
	ControlRedisUser     string        `env:"CONTROL_REDIS_USER"`
	ControlRedisPassword secret.String `env:"CONTROL_REDIS_PASSWORD"`
	ControlRedisDB       int           `name:"control-redis-db" env:"CONTROL_REDIS_DB" default:"0"`
	ControlRedisKey      string        `env:"CONTROL_REDIS_KEY" default:"deploy"`

	RedeployCommand string        `env:"REDEPLOY_COMMAND" default:"redeploy" help:"Control channel value that triggers a redeploy"`
	PollInterval    time.Duration `env:"POLL_INTERVAL" default:"1s" help:"How often the control channel is read"`
	SettleDelay     time.Duration `env:"SETTLE_DELAY" default:"5s" help:"Wait after a restart before reporting it done"`

	AdminAddr       string        `env:"ADMIN_ADDR" default:":8001" help:"The address for the admin api to listen on, or unix:<path> for a socket"`
	ShutdownDelay   time.Duration `env:"SHUTDOWN_DELAY" default:"0s" help:"Delay shutdown by this amount" hidden:""`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"30s" help:"How long stopping the child may take on shutdown"`

	O11yStatsd           string        `name:"o11y-statsd" env:"O11Y_STATSD" help:"Address to send statsd metrics"`
	O11yHoneycombEnabled bool          `name:"o11y-honeycomb" env:"O11Y_HONEYCOMB" default:"false" help:"Send traces to honeycomb"`
	O11yHoneycombDataset string        `name:"o11y-honeycomb-dataset" env:"O11Y_HONEYCOMB_DATASET" default:"redeployer"`
	O11yHoneycombKey     secret.String `name:"o11y-honeycomb-key" env:"O11Y_HONEYCOMB_KEY"`
	O11ySampleTraces     bool          `name:"o11y-sample-traces" env:"O11Y_SAMPLE_TRACES" default:"false" help:"Sample the idle control channel polls"`
	O11yFormat           string        `name:"o11y-format" env:"O11Y_FORMAT" enum:"json,color,text" default:"text" help:"Format used for stderr logging"`
	O11yRollbarToken     secret.String `name:"o11y-rollbar-token" env:"O11Y_ROLLBAR_TOKEN"`
	O11yRollbarEnv       string        `name:"o11y-rollbar-env" env:"O11Y_ROLLBAR_ENV" default:"production"`
	O11yDebug            bool          `name:"o11y-debug" env:"O11Y_DEBUG" default:"false" hidden:""`
}

func main() {
	cli := cli{}
	kong.Parse(&cli,
		kong.Name("redeployer"),
		kong.Description("Runs a child service and redeploys it from git when told to."),
	)

	err := run(context.Background(), cli, Version, Date)
	if err != nil && !errors.Is(err, termination.ErrTerminated) {
		log.Fatal("Unexpected Error: ", err)
	}
	log.Println("exited 0")
}

func run(ctx context.Context, cli cli, version, date string) (err error) {
	err = rootcerts.UpdateDefaultTransport()
	if err != nil {
		return fmt.Errorf("failed to inject rootcerts: %w", err)
	}

	ctx, o11yCleanup, err := loadO11y(ctx, version, cli)
	if err != nil {
		return err
	}
	defer o11yCleanup(ctx)

	ctx, runSpan := o11y.StartSpan(ctx, "main: run")
	defer o11y.End(runSpan, &err)

	o11y.Log(ctx, "starting redeployer",
		o11y.Field("version", version),
		o11y.Field("date", date),
		o11y.Field("repo_dir", cli.RepoDir),
	)

	if rerr := rundef.Defaults(ctx); rerr != nil {
		o11y.LogError(ctx, "main: runtime defaults", rerr)
	}

	sys := system.New()
	defer sys.Cleanup(ctx)

	channel := loadControlChannel(ctx, cli, sys)

	loop, err := loadDeployLoop(ctx, cli, channel, sys)
	if err != nil {
		return err
	}

	// Should be last so it collects all the health checks
	_, err = healthcheck.Load(ctx, cli.AdminAddr, sys, loop.StatusFunc)
	if err != nil {
		return err
	}

	return sys.Run(ctx, cli.ShutdownDelay)
}

func loadDeployLoop(ctx context.Context, cli cli, channel controlchannel.Channel, sys *system.System) (*deploy.Loop, error) {
	repo, err := repository.New(repository.Config{
		Dir:          cli.RepoDir,
		PullCommand:  cli.PullCommand,
		BuildCommand: cli.BuildCommand,
		Colour:       cli.ChildColour,
	})
	if err != nil {
		return nil, err
	}

	proc := process.New(process.Config{
		Name:        cli.ChildName,
		Dir:         repo.Dir(),
		Command:     cli.ChildCommand,
		Port:        cli.ChildPort,
		Colour:      cli.ChildColour,
		StopTimeout: cli.StopTimeout,
	})

	loop := deploy.New(deploy.Config{
		Channel:         channel,
		Repository:      repo,
		Process:         proc,
		RedeployCommand: cli.RedeployCommand,
		PollInterval:    cli.PollInterval,
		SettleDelay:     cli.SettleDelay,
		ShutdownTimeout: cli.ShutdownTimeout,
	})

	o11y.Log(ctx, "main: child",
		o11y.Field("name", proc.Name()),
		o11y.Field("command", cli.ChildCommand),
		o11y.Field("port", cli.ChildPort),
	)

	sys.AddService(loop.Run)
	sys.AddHealthCheck(loop)
	sys.AddMetrics(loop)
	return loop, nil
}

func loadControlChannel(ctx context.Context, cli cli, sys *system.System) controlchannel.Channel {
	if cli.ControlRedisAddr == "" {
		o11y.Log(ctx, "main: control channel", o11y.Field("url", cli.ControlURL))
		ch := controlchannel.NewHTTP(controlchannel.HTTPConfig{
			BaseURL:    cli.ControlURL,
			Timeout:    cli.ControlTimeout,
			ReadRoute:  cli.ControlReadRoute,
			WriteRoute: cli.ControlWriteRoute,
		})
		sys.AddMetrics(ch)
		return ch
	}

	o11y.Log(ctx, "main: control channel",
		o11y.Field("redis_addr", cli.ControlRedisAddr),
		o11y.Field("redis_key", cli.ControlRedisKey),
	)
	ch := controlchannel.NewRedis(controlchannel.RedisConfig{
		Addr:     cli.ControlRedisAddr,
		User:     cli.ControlRedisUser,
		Password: cli.ControlRedisPassword,
		DB:       cli.ControlRedisDB,
		Key:      cli.ControlRedisKey,
		Timeout:  cli.ControlTimeout,
	})
	sys.AddHealthCheck(ch)
	sys.AddMetrics(ch)
	sys.AddCleanup(func(context.Context) error {
		return ch.Close()
	})
	return ch
}
