package main

import (
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/chatrelay/pkg/ai/settings"
	"github.com/go-go-golems/chatrelay/pkg/ai/types"
	"github.com/go-go-golems/chatrelay/pkg/web"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:   "chatrelay",
	Short: "chatrelay talks to local and remote chat models",
	Long: `chatrelay keeps multi-turn conversations with a local ollama runtime
or a remote chat API, from the terminal or over HTTP.

Without a subcommand it starts the interactive chat, or the web server when
--web is given.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		initLogger()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetBool("web") {
			return runServe(cmd.Context())
		}
		return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func initLogger() {
	logLevel := viper.GetString("log-level")
	verbose := viper.GetBool("verbose")
	if verbose && logLevel != "trace" {
		logLevel = "debug"
	}

	err := InitLogger(&logConfig{
		Level:      logLevel,
		LogFile:    viper.GetString("log-file"),
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
	})
	cobra.CheckErr(err)
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
	LogFile    string
}

func initCommands(rootCmd *cobra.Command, configPath string) error {
	viper.SetEnvPrefix("chatrelay")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.chatrelay")
		viper.AddConfigPath("/etc/chatrelay")

		xdgConfigPath, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(xdgConfigPath + "/chatrelay")
		}
	}

	err := viper.ReadInConfig()
	// if the file does not exist, continue normally
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
	} else if err != nil {
		return err
	}
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	err = viper.BindPFlags(rootCmd.PersistentFlags())
	if err != nil {
		return err
	}

	// this still won't pick up on --verbose to show debug logging when the commands
	// are parsed, but at least it will configure it based on the config file
	initLogger()

	log.Debug().
		Str("config", viper.ConfigFileUsed()).
		Msg("Loaded configuration")

	return nil
}

func InitLogger(config *logConfig) error {
	if config.WithCaller {
		log.Logger = log.With().Caller().Logger()
	}
	// default is text on stderr, stdout belongs to the chat
	var logWriter io.Writer
	if config.LogFormat == "json" {
		logWriter = os.Stderr
	} else {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	if config.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   config.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, //days
					Compress:   false,
				},
			})
	}

	log.Logger = log.Output(logWriter)

	switch config.Level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	}

	return nil
}

// addProviderFlags registers the credential and endpoint flags of every
// provider, named like the settings keys so viper binds them directly.
func addProviderFlags(flags *pflag.FlagSet) {
	for _, apiType := range types.AllApiTypes() {
		if apiType != types.ApiTypeOllama {
			flags.String(settings.APIKeySlug(apiType), "", string(apiType)+" API key")
		}
		flags.String(settings.BaseURLSlug(apiType), "", string(apiType)+" base URL")
	}
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	flags := rootCmd.PersistentFlags()

	// logging flags
	flags.Bool("with-caller", false, "Log caller")
	flags.String("log-level", "warn", "Log level (trace, debug, info, warn, error, fatal)")
	flags.String("log-format", "text", "Log format (json, text)")
	flags.String("log-file", "", "Log file (default: stderr)")
	flags.String("config", "", "Path to config file (default ~/.chatrelay/config.yaml)")
	flags.Bool("verbose", false, "Verbose output")

	flags.StringP("model", "m", "", "Model to select at startup (default from config, llama3.1:8b)")
	flags.StringP("prompt", "p", "", "Send a single message and exit")
	flags.BoolP("web", "w", false, "Start the web server instead of the interactive chat")
	flags.Bool("stream", true, "Stream responses as they are generated")
	flags.Float64("temperature", 0, "Sampling temperature (default from config, 0.7)")
	flags.Int("max-tokens", 0, "Maximum response tokens (default from config, 2000)")
	flags.String("system-prompt", "", "System prompt for new conversations")

	flags.String("host", web.DefaultHost, "Web server host")
	flags.Int("port", web.DefaultPort, "Web server port")

	flags.String("store", "memory", "Conversation store (memory, sqlite)")
	flags.String("store-path", "", "SQLite database file (default ~/.chatrelay/conversations.db)")

	addProviderFlags(flags)

	// parse the flags one time just to catch --config
	configFile := ""
	for idx, arg := range os.Args {
		if arg == "--config" {
			if len(os.Args) > idx+1 {
				configFile = os.Args[idx+1]
			}
		} else if strings.HasPrefix(arg, "--config=") {
			configFile = strings.TrimPrefix(arg, "--config=")
		}
	}

	err := initCommands(rootCmd, configFile)
	cobra.CheckErr(err)

	rootCmd.AddCommand(newChatCommand(), newServeCommand(), newModelsCommand())
}
