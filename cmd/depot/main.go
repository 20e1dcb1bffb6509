package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"depot/internal/app"
	"depot/internal/config"
	"depot/internal/depot"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// readConfig loads the config file named by the defaults.
func readConfig() (*config.Config, error) {
	paths, err := app.DefaultPaths()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(paths.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates a DepotApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "UploadStored", "ResolveResource").
func newApp(ctx context.Context, operation string) (*app.DepotApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewDepotApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// origin builds the request origin from the --container and --guild flags.
func origin(cmd *cobra.Command) (depot.RequestOrigin, error) {
	container, _ := cmd.Flags().GetString("container")
	guild, _ := cmd.Flags().GetString("guild")
	if container == "" {
		return nil, errors.New("--container is required")
	}
	return app.Origin(container, guild), nil
}

// report prints the reply for err and returns a non-nil error when the
// operation did not succeed.
func report(a *app.DepotApp, o depot.RequestOrigin, err error, success string) error {
	r := a.Reply(o, err, success)
	if r.Success {
		fmt.Println(r.Body)
		return nil
	}
	fmt.Fprintf(os.Stderr, "%s: %s\n", r.Title, r.Body)
	return errors.New(r.Title)
}

// outcome prints an entry outcome that stopped an upload before the form.
func outcome(out depot.EntryOutcome) error {
	switch o := out.(type) {
	case depot.ConsentRequired:
		fmt.Printf("%s\n\n%s\n\n", o.Disclosure.Title, o.Disclosure.Body)
		fmt.Println("Run `depot consent accept --actor ID` to continue.")
		return errors.New("consent required")
	case depot.Rejected:
		fmt.Fprintf(os.Stderr, "Upload refused: %s\n", o.Reason)
		return errors.New(o.Code)
	}
	return fmt.Errorf("unexpected outcome %T", out)
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

var rootCmd = &cobra.Command{
	Use:          "depot",
	Short:        "Resource ingestion and access for discussion threads",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(paths.BaseDir)
		cfg.LogDir = paths.LogDir
		if err := config.Init(paths.ConfigFile, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", paths.ConfigFile)
		fmt.Printf("Base Dir: %s\n", paths.BaseDir)
		fmt.Printf("Log Dir:  %s\n", paths.LogDir)
		fmt.Println("Run `depot db migrate` before the first upload.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s (%s)\n", cfg.LogDir, cfg.LogLevel)
		fmt.Printf("Database:   %s\n", cfg.Database.Type)
		fmt.Printf("Channel:    %s\n", cfg.Channel.Type)
		fmt.Printf("Warehouse:  %s\n", cfg.Warehouse.Root)
		fmt.Printf("Drafts:     %s (form ttl %s)\n", cfg.Pending.Type, cfg.Pending.FormTTL)
		fmt.Printf("Notifier:   %s\n", cfg.Notifier.Type)
		if cfg.Metrics.Textfile != "" {
			fmt.Printf("Metrics:    %s\n", cfg.Metrics.Textfile)
		}
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the entity store",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		version, err := app.MigrateDatabase(cfg)
		if err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		fmt.Printf("Schema at version %d\n", version)
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		version, err := app.DatabaseStatus(cfg)
		if err != nil {
			return fmt.Errorf("schema not at version %d: %w", version, err)
		}
		fmt.Printf("Schema up to date (version %d)\n", version)
		return nil
	},
}

// warehouse command
var warehouseCmd = &cobra.Command{
	Use:   "warehouse",
	Short: "Inspect the warehouse root",
}

var warehouseCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the warehouse root is usable",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CheckWarehouse")
		if err != nil {
			return err
		}
		defer a.Close()

		return report(a, nil, a.CheckWarehouse(cmd.Context()), "Warehouse root is usable.")
	},
}

// consent command
var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Manage the privacy disclosure",
}

var consentShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the disclosure and whether the actor accepted it",
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")

		a, err := newApp(cmd.Context(), "ConsentState")
		if err != nil {
			return err
		}
		defer a.Close()

		p := a.Disclosure()
		fmt.Printf("%s\n\n%s\n\n", p.Title, p.Body)
		if actor == "" {
			return nil
		}
		state, err := a.ConsentState(cmd.Context(), actor)
		if err != nil {
			return report(a, nil, err, "")
		}
		fmt.Printf("%s: %s\n", actor, state)
		return nil
	},
}

var consentAcceptCmd = &cobra.Command{
	Use:   "accept",
	Short: "Accept the disclosure",
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")

		a, err := newApp(cmd.Context(), "AcceptConsent")
		if err != nil {
			return err
		}
		defer a.Close()

		return report(a, nil, a.AcceptConsent(cmd.Context(), actor), "Thanks, uploads are enabled.")
	},
}

var consentDeclineCmd = &cobra.Command{
	Use:   "decline",
	Short: "Decline the disclosure",
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")

		a, err := newApp(cmd.Context(), "DeclineConsent")
		if err != nil {
			return err
		}
		defer a.Close()

		a.DeclineConsent(cmd.Context(), actor)
		fmt.Println("Nothing was recorded. You will be asked again on your next upload.")
		return nil
	},
}

// channel command
var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Work with the content channel",
}

var channelPostCmd = &cobra.Command{
	Use:   "post MESSAGE",
	Short: "Publish a message into a public container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		path, _ := cmd.Flags().GetString("file")
		o, err := origin(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Post")
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.Post(cmd.Context(), o.ContainerID(), actor, args[0], path)
		if err != nil {
			return fmt.Errorf("posting: %w", err)
		}
		fmt.Printf("Posted %s\n", id)
		fmt.Println(depot.JumpLink(o.GuildID(), o.ContainerID(), id))
		return nil
	},
}

// upload command
var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Record resources in a thread",
}

var uploadReferenceCmd = &cobra.Command{
	Use:   "reference LINK",
	Short: "Record an existing message by its link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		label, _ := cmd.Flags().GetString("label")
		password, _ := cmd.Flags().GetString("password")
		description, _ := cmd.Flags().GetString("description")
		o, err := origin(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "UploadReference")
		if err != nil {
			return err
		}
		defer a.Close()

		out, res, err := a.UploadReference(cmd.Context(), app.ReferenceUpload{
			ActorID:      actor,
			Origin:       o,
			Locator:      args[0],
			VersionLabel: label,
			Password:     password,
			Description:  description,
		})
		if err != nil {
			return report(a, o, err, "")
		}
		if out != nil {
			return outcome(out)
		}
		return report(a, o, nil, depot.DescribeIngestion(res))
	},
}

var uploadStoreCmd = &cobra.Command{
	Use:   "store",
	Short: "Copy files into the thread's warehouse",
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		name, _ := cmd.Flags().GetString("name")
		label, _ := cmd.Flags().GetString("label")
		password, _ := cmd.Flags().GetString("password")
		description, _ := cmd.Flags().GetString("description")
		files, _ := cmd.Flags().GetStringArray("file")
		adopt, _ := cmd.Flags().GetString("adopt")
		o, err := origin(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "UploadStored")
		if err != nil {
			return err
		}
		defer a.Close()

		out, res, err := a.UploadStored(cmd.Context(), app.StoreUpload{
			ActorID:       actor,
			Origin:        o,
			ContainerName: name,
			VersionLabel:  label,
			Password:      password,
			Description:   description,
			Paths:         files,
			AdoptItemID:   adopt,
		})
		if err != nil {
			return report(a, o, err, "")
		}
		if out != nil {
			return outcome(out)
		}
		if res.WarehouseCreated {
			fmt.Println("A new warehouse was created for this thread.")
		}
		return report(a, o, nil, depot.DescribeIngestion(res))
	},
}

// resources command
var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "List and manage recorded resources",
}

var resourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the resources of a thread",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := origin(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "ListResources")
		if err != nil {
			return err
		}
		defer a.Close()

		l, err := a.ListResources(cmd.Context(), o)
		if err != nil {
			return report(a, o, err, "")
		}
		if l.Grouping.Empty() {
			fmt.Println("No resources recorded.")
			return nil
		}

		if len(l.Summary.Secure) > 0 {
			fmt.Println("Protected:")
			for _, line := range l.Summary.Secure {
				fmt.Printf("  %s\n", line)
			}
		}
		if len(l.Summary.Normal) > 0 {
			fmt.Println("Referenced:")
			for _, line := range l.Summary.Normal {
				fmt.Printf("  %s\n", line)
			}
		}
		fmt.Println()
		for _, opt := range l.Options {
			fmt.Printf("%s  %-40s  %s\n", opt.Value, opt.Label, opt.Description)
		}
		return nil
	},
}

var resourcesResolveCmd = &cobra.Command{
	Use:   "resolve ID",
	Short: "Mint a fresh download link for a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		prompt, _ := cmd.Flags().GetBool("prompt")

		a, err := newApp(cmd.Context(), "ResolveResource")
		if err != nil {
			return err
		}
		defer a.Close()

		if prompt && password == "" {
			need, err := a.RequiresPassword(cmd.Context(), args[0])
			if err != nil {
				return report(a, nil, err, "")
			}
			if need {
				if password, err = readPassword("Password: "); err != nil {
					return err
				}
			}
		}

		p, err := a.ResolveResource(cmd.Context(), args[0], password)
		if err != nil {
			return report(a, nil, err, "")
		}
		fmt.Println(p.URL)
		fmt.Printf("Expires %s\n", p.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
		return nil
	},
}

var resourcesEditCmd = &cobra.Command{
	Use:   "edit ID",
	Short: "Change the version label or password of a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		label, _ := cmd.Flags().GetString("label")
		password, _ := cmd.Flags().GetString("password")

		a, err := newApp(cmd.Context(), "EditResource")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.EditResource(cmd.Context(), actor, args[0], label, password)
		if err != nil {
			return report(a, nil, err, "")
		}
		return report(a, nil, nil, fmt.Sprintf("Updated %s (%s).", r.DisplayName(), r.VersionLabel))
	},
}

var resourcesDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")

		a, err := newApp(cmd.Context(), "DeleteResource")
		if err != nil {
			return err
		}
		defer a.Close()

		ok, err := a.DeleteResource(cmd.Context(), actor, args[0])
		if err != nil {
			return report(a, nil, err, "")
		}
		if !ok {
			fmt.Println("Nothing to delete.")
			return nil
		}
		return report(a, nil, nil, "Resource deleted.")
	},
}

// thread command
var threadCmd = &cobra.Command{
	Use:   "thread",
	Short: "Manage thread settings",
}

var threadSettingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Change the settings of a thread",
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		o, err := origin(cmd)
		if err != nil {
			return err
		}

		var s depot.ThreadSettings
		if cmd.Flags().Changed("quick-delete") {
			v, _ := cmd.Flags().GetBool("quick-delete")
			s.QuickDelete = &v
		}
		if cmd.Flags().Changed("reaction-required") {
			v, _ := cmd.Flags().GetBool("reaction-required")
			s.ReactionRequired = &v
		}
		if cmd.Flags().Changed("emoji") {
			v, _ := cmd.Flags().GetString("emoji")
			s.ReactionEmoji = &v
		}

		a, err := newApp(cmd.Context(), "UpdateThreadSettings")
		if err != nil {
			return err
		}
		defer a.Close()

		th, err := a.UpdateThreadSettings(cmd.Context(), actor, o, s)
		if err != nil {
			return report(a, o, err, "")
		}
		emoji := "none"
		if th.ReactionEmoji != nil {
			emoji = *th.ReactionEmoji
		}
		return report(a, o, nil, fmt.Sprintf("quick delete: %t, reaction required: %t, emoji: %s",
			th.QuickDeleteEnabled, th.ReactionRequired, emoji))
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// db subcommands
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)

	// warehouse subcommands
	warehouseCmd.AddCommand(warehouseCheckCmd)

	// consent subcommands
	for _, c := range []*cobra.Command{consentShowCmd, consentAcceptCmd, consentDeclineCmd} {
		c.Flags().String("actor", "", "Member id")
		consentCmd.AddCommand(c)
	}
	consentAcceptCmd.MarkFlagRequired("actor")
	consentDeclineCmd.MarkFlagRequired("actor")

	// channel subcommands
	channelCmd.AddCommand(channelPostCmd)
	channelPostCmd.Flags().String("actor", "", "Author id")
	channelPostCmd.Flags().String("file", "", "File to attach")

	// upload subcommands
	uploadCmd.AddCommand(uploadReferenceCmd)
	uploadCmd.AddCommand(uploadStoreCmd)
	for _, c := range []*cobra.Command{uploadReferenceCmd, uploadStoreCmd} {
		c.Flags().String("actor", "", "Member id of the uploader")
		c.Flags().String("label", "", "Version label")
		c.Flags().String("password", "", "Password required to resolve the resource")
		c.Flags().String("description", "", "Free-form description")
		c.MarkFlagRequired("actor")
	}
	uploadStoreCmd.Flags().StringArrayP("file", "f", nil, "File to upload (repeatable)")
	uploadStoreCmd.Flags().String("name", "", "Display name of a new warehouse")
	uploadStoreCmd.Flags().String("adopt", "", "Id of the message whose attachments --file re-supplies")

	// resources subcommands
	resourcesCmd.AddCommand(resourcesListCmd)
	resourcesCmd.AddCommand(resourcesResolveCmd)
	resourcesCmd.AddCommand(resourcesEditCmd)
	resourcesCmd.AddCommand(resourcesDeleteCmd)
	resourcesResolveCmd.Flags().String("password", "", "Password of a protected resource")
	resourcesResolveCmd.Flags().Bool("prompt", false, "Ask for the password when one is required")
	resourcesEditCmd.Flags().String("actor", "", "Member id of the thread owner")
	resourcesEditCmd.Flags().String("label", "", "New version label")
	resourcesEditCmd.Flags().String("password", "", "New password; empty clears it")
	resourcesEditCmd.MarkFlagRequired("actor")
	resourcesDeleteCmd.Flags().String("actor", "", "Member id of the thread owner")
	resourcesDeleteCmd.MarkFlagRequired("actor")

	// thread subcommands
	threadCmd.AddCommand(threadSettingsCmd)
	threadSettingsCmd.Flags().String("actor", "", "Member id of the thread owner")
	threadSettingsCmd.Flags().Bool("quick-delete", false, "Delete source messages after a protected upload")
	threadSettingsCmd.Flags().Bool("reaction-required", false, "Require a reaction before resolving")
	threadSettingsCmd.Flags().String("emoji", "", "Reaction emoji")
	threadSettingsCmd.MarkFlagRequired("actor")

	// container flags
	for _, c := range []*cobra.Command{channelPostCmd, uploadReferenceCmd, uploadStoreCmd, resourcesListCmd, threadSettingsCmd} {
		c.Flags().String("container", "", "Public container id")
		c.Flags().String("guild", "", "Guild id used in links")
	}

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(warehouseCmd)
	rootCmd.AddCommand(consentCmd)
	rootCmd.AddCommand(channelCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(resourcesCmd)
	rootCmd.AddCommand(threadCmd)
}
