package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"foliosync/internal/app"
	"foliosync/internal/config"
	"foliosync/internal/folio"
	"foliosync/internal/model"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer
// a.Close(). operation identifies the CLI command being run.
func newApp(operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if cfg.LogDir == "" {
		cfg.LogDir = defaults["log_dir"]
	}

	a, err := app.New(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// promptSecret reads a secret from the terminal without echo.
func promptSecret(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", label, err)
	}
	return strings.TrimSpace(string(b)), nil
}

// promptLine reads one echoed line from stdin.
func promptLine(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return "", fmt.Errorf("reading %s: %w", label, err)
	}
	return strings.TrimSpace(line), nil
}

// authenticate walks the full trust ladder: login, device
// verification (registering the device on first contact), then the
// second factor. The session is process-lifetime only; nothing is
// persisted.
func authenticate(ctx context.Context, a *app.App, email string) error {
	if email == "" {
		email = a.AuthEmail()
	}
	if email == "" {
		var err error
		email, err = promptLine("Email")
		if err != nil {
			return err
		}
	}

	password := os.Getenv("FOLIOSYNC_PASSWORD")
	if password == "" {
		var err error
		password, err = promptSecret("Password")
		if err != nil {
			return err
		}
	}

	if err := a.Session.Login(ctx, email, password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	err := a.Session.VerifyDevice(ctx)
	if errors.Is(err, folio.ErrDeviceNotRegistered) {
		status, regErr := a.Session.RegisterDevice(ctx)
		if regErr != nil {
			return fmt.Errorf("device registration failed: %w", regErr)
		}
		fmt.Printf("Device registered (status: %s)\n", status)
		err = a.Session.VerifyDevice(ctx)
	}
	if errors.Is(err, folio.ErrDevicePendingApproval) {
		return fmt.Errorf("this device is awaiting administrator approval; try again once approved")
	}
	if err != nil {
		return fmt.Errorf("device verification failed: %w", err)
	}

	if err := a.Session.GenerateTOTP(ctx); err != nil {
		return fmt.Errorf("requesting one-time code failed: %w", err)
	}
	code, err := promptSecret("One-time code")
	if err != nil {
		return err
	}
	if err := a.Session.VerifyTOTP(ctx, code); err != nil {
		return fmt.Errorf("one-time code rejected: %w", err)
	}

	fmt.Printf("Authenticated at level %s\n", a.Session.SecurityLevel())
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "foliosync",
	Short: "Device-trust client and local cache for the hotel financial-data API",
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
		apiURL, _ := cmd.Flags().GetString("api-url")

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(apiURL, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("API URL:  %s\n", apiURL)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

// device command

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Inspect and enroll this device",
}

var deviceIDCmd = &cobra.Command{
	Use:   "id",
	Short: "Print the derived device identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("DeviceID")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		id, err := a.Identity.DeviceID(ctx)
		if err != nil {
			return err
		}
		info := a.Identity.HardwareInfo()

		fmt.Printf("Device ID: %s\n", id)
		if info.Degraded() {
			fmt.Println("Warning: some hardware descriptors are UNKNOWN; the id is less unique than usual")
		}
		return nil
	},
}

var deviceRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this device with the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")

		a, err := newApp("DeviceRegister")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		return authenticate(ctx, a, email)
	},
}

// hotel command

var hotelCmd = &cobra.Command{
	Use:   "hotel",
	Short: "Manage the active hotel",
}

var hotelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known hotels (from the local cache)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("HotelList")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		hotels, err := a.Store().ListHotels(ctx)
		if err != nil {
			return err
		}
		if len(hotels) == 0 {
			fmt.Println("No hotels cached yet. Run a sync first.")
			return nil
		}

		active, _ := a.RestoreActiveHotel(ctx)
		for _, h := range hotels {
			marker := " "
			if h.ID == active {
				marker = "*"
			}
			fmt.Printf("%s %s\t%s\n", marker, h.ID, h.Name)
		}
		return nil
	},
}

var hotelSelectCmd = &cobra.Command{
	Use:   "select <hotel-id>",
	Short: "Select the active hotel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("HotelSelect")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if err := a.Store().SetSetting(ctx, folio.SettingActiveHotel, args[0]); err != nil {
			return fmt.Errorf("persisting hotel selection: %w", err)
		}
		fmt.Printf("Active hotel: %s\n", args[0])
		return nil
	},
}

// sync command

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the local cache",
}

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one synchronization pass now",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")

		a, err := newApp("SyncRun")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if err := authenticate(ctx, a, email); err != nil {
			return err
		}

		hotel, err := a.RestoreActiveHotel(ctx)
		if err != nil {
			return err
		}
		if hotel == "" {
			return fmt.Errorf("no hotel selected; run 'foliosync hotel select' first")
		}

		a.Scheduler.RestoreHotel(hotel)
		a.Scheduler.TriggerSync()
		fmt.Println("Sync pass completed.")
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-key cache staleness",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("SyncStatus")
		if err != nil {
			return err
		}
		defer a.Close()

		metas, err := a.Store().ListCacheMetadata(cmd.Context())
		if err != nil {
			return err
		}
		if len(metas) == 0 {
			fmt.Println("No cache metadata yet.")
			return nil
		}
		for _, m := range metas {
			last := "never"
			if m.LastSyncedAt != nil {
				last = m.LastSyncedAt.UTC().Format("2006-01-02T15:04:05Z")
			}
			line := fmt.Sprintf("%-30s %-9s last=%s", m.Key, m.Status, last)
			if m.Error != "" {
				line += " error=" + m.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

// daemon command

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")

		a, err := newApp("Daemon")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		if err := authenticate(ctx, a, email); err != nil {
			return err
		}

		hotel, err := a.RestoreActiveHotel(ctx)
		if err != nil {
			return err
		}

		if hotel != "" {
			a.Scheduler.RestoreHotel(hotel)
		}
		a.Scheduler.Start(ctx)

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		<-sigs

		fmt.Fprintln(os.Stderr, "shutting down")
		cancel()
		a.Scheduler.Stop()
		a.Session.ClearAuth()
		return nil
	},
}

// upload command

var uploadCmd = &cobra.Command{
	Use:   "upload <records.json>",
	Short: "Bulk-upload records for the active hotel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")

		a, err := newApp("Upload")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := cmd.Context()
		if err := authenticate(ctx, a, email); err != nil {
			return err
		}

		hotel, err := a.RestoreActiveHotel(ctx)
		if err != nil {
			return err
		}
		if hotel == "" {
			return fmt.Errorf("no hotel selected; run 'foliosync hotel select' first")
		}

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		var records []map[string]any
		if err := json.Unmarshal(raw, &records); err != nil {
			return fmt.Errorf("parsing %s: %w", args[0], err)
		}

		err = a.API.SubmitBulk(ctx, model.BulkSubmission{HotelID: hotel, Records: records})
		var verr *folio.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintln(os.Stderr, "The server rejected the upload:")
			for _, f := range verr.Fields {
				fmt.Fprintf(os.Stderr, "  %s\n", f)
			}
			return err
		}
		if err != nil {
			return err
		}

		fmt.Printf("Uploaded %d records.\n", len(records))
		return nil
	},
}

func init() {
	configInitCmd.Flags().String("api-url", "", "Base URL of the remote API")
	configInitCmd.MarkFlagRequired("api-url")
	configCmd.AddCommand(configInitCmd)

	deviceCmd.AddCommand(deviceIDCmd)
	deviceRegisterCmd.Flags().String("email", "", "Login email")
	deviceCmd.AddCommand(deviceRegisterCmd)

	hotelCmd.AddCommand(hotelListCmd, hotelSelectCmd)

	syncRunCmd.Flags().String("email", "", "Login email")
	syncCmd.AddCommand(syncRunCmd, syncStatusCmd)

	daemonCmd.Flags().String("email", "", "Login email")
	uploadCmd.Flags().String("email", "", "Login email")

	rootCmd.AddCommand(configCmd, deviceCmd, hotelCmd, syncCmd, daemonCmd, uploadCmd)
}
