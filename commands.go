package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"repowatch/pkg/entitlement"
	"repowatch/pkg/platform"
	"repowatch/pkg/storage"
	"repowatch/pkg/syncer"
)

var (
	bold  = color.New(color.Bold).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	faint = color.New(color.Faint).SprintFunc()
)

// withApp builds the app, runs fn and closes the app.
func withApp(fn func(ctx context.Context, a *app) error) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := fn(ctx, a)
	if err := a.Close(); err != nil {
		a.logger.Printf("close: %v", err)
	}
	return runErr
}

// withDelivery runs fn while the delivery worker is subscribed.
func withDelivery(ctx context.Context, a *app, fn func(ctx context.Context) error) error {
	workerCtx, cancel := context.WithCancel(ctx)
	wait, err := a.startDelivery(workerCtx)
	if err != nil {
		cancel()
		return err
	}
	runErr := fn(ctx)
	cancel()
	wait()
	return runErr
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sync on a schedule and deliver notifications until interrupted",
	Long: `Run syncs every tracked repository on the configured interval. Send
SIGHUP to request an immediate sync.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return withDelivery(ctx, a, func(ctx context.Context) error {
				hup := make(chan os.Signal, 1)
				signal.Notify(hup, syscall.SIGHUP)
				defer signal.Stop(hup)
				go func() {
					for {
						select {
						case <-ctx.Done():
							return
						case <-hup:
							a.engine.Refresh()
						}
					}
				}()
				a.logger.Printf("syncing every %s", a.cfg.Sync.Interval)
				return a.engine.Start(ctx)
			})
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single sync cycle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			return withDelivery(ctx, a, func(ctx context.Context) error {
				result, err := a.engine.RunCycle(ctx)
				if err != nil {
					return err
				}
				printCycle(result)
				if result.AllFailed() {
					return errors.New("every repository failed to update")
				}
				return nil
			})
		})
	},
}

func printCycle(result syncer.CycleResult) {
	summary := fmt.Sprintf("%d updated, %d failed, %d notifications in %s",
		result.Updated, result.Failed, result.Notifications, result.Duration.Round(time.Millisecond))
	switch {
	case result.RateLimited:
		fmt.Printf("%s %s\n", red("rate limited:"), summary)
	case result.Failed > 0:
		fmt.Printf("%s %s\n", red("partial:"), summary)
	default:
		fmt.Printf("%s %s\n", green("ok:"), summary)
	}
}

var addCmd = &cobra.Command{
	Use:   "add <repository>...",
	Short: "Track repositories by URL, SSH remote or owner/name",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			var errs error
			for _, input := range args {
				record, err := a.engine.AddRepository(ctx, input)
				if err != nil {
					fmt.Printf("%s %s: %v\n", red("failed"), input, err)
					errs = errors.Join(errs, err)
					if errors.Is(err, syncer.ErrCapacityReached) {
						break
					}
					continue
				}
				fmt.Printf("%s %s %s\n", green("tracking"), bold(record.DisplayName()), faint(record.ID))
			}
			return errs
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <id|repository>",
	Short: "Stop tracking a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			records, err := a.engine.ListRepositories(ctx)
			if err != nil {
				return err
			}
			record, ok := findRecord(records, args[0])
			if !ok {
				return fmt.Errorf("%w: %s", storage.ErrNotFound, args[0])
			}
			if err := a.engine.RemoveRepository(ctx, record.ID); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", green("removed"), record.DisplayName())
			return nil
		})
	},
}

func findRecord(records []storage.RepositoryRecord, arg string) (storage.RepositoryRecord, bool) {
	for _, r := range records {
		if r.ID == arg {
			return r, true
		}
	}
	id, err := platform.Parse(arg)
	if err != nil {
		return storage.RepositoryRecord{}, false
	}
	for _, r := range records {
		if r.Identifier == id {
			return r, true
		}
	}
	return storage.RepositoryRecord{}, false
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show tracked repositories and their last snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			records, err := a.engine.ListRepositories(ctx)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no repositories tracked")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tREPOSITORY\tPLATFORM\tSTARS\tRELEASE\tUPDATED")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.DisplayName(), r.Identifier.Platform.DisplayName(),
					stars(r), valueOr(r.LatestReleaseTag, "-"), when(r.LastUpdated))
			}
			return w.Flush()
		})
	},
}

func stars(r storage.RepositoryRecord) string {
	delta := r.StarDelta()
	switch {
	case delta > 0:
		return fmt.Sprintf("%d (+%d)", r.StarCount, delta)
	case delta < 0:
		return fmt.Sprintf("%d (%d)", r.StarCount, delta)
	default:
		return fmt.Sprintf("%d", r.StarCount)
	}
}

func valueOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func when(ts *time.Time) string {
	if ts == nil {
		return "never"
	}
	return ts.Local().Format("2006-01-02 15:04")
}

var (
	importPlatform string
	importPerPage  int
	importPages    int
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Track the repositories visible to a platform credential",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := platform.ParsePlatform(importPlatform)
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			added := 0
			for page := 1; page <= importPages; page++ {
				repos, err := a.engine.ListRemoteRepositories(ctx, p, page, importPerPage)
				if err != nil {
					return err
				}
				for _, repo := range repos {
					input := repo.URL
					if input == "" {
						input = platform.Identifier{Platform: p, Owner: repo.Owner, Name: repo.Name}.URL()
					}
					_, err := a.engine.AddRepository(ctx, input)
					switch {
					case err == nil:
						added++
						fmt.Printf("%s %s\n", green("tracking"), repo.FullName)
					case errors.Is(err, syncer.ErrAlreadyTracked):
						fmt.Printf("%s %s\n", faint("skipped"), repo.FullName)
					case errors.Is(err, syncer.ErrCapacityReached):
						fmt.Printf("%s %v\n", red("stopped"), err)
						return nil
					default:
						fmt.Printf("%s %s: %v\n", red("failed"), repo.FullName, err)
					}
				}
				if len(repos) < importPerPage {
					break
				}
			}
			fmt.Printf("%d repositories added\n", added)
			return nil
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage platform credentials in the OS keychain",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set <platform> <token>",
	Short: "Store and verify a token",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := platform.ParsePlatform(args[0])
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			token := strings.TrimSpace(args[1])
			if err := a.tokens.Set(p, token); err != nil {
				return err
			}
			a.factory.SetToken(p, token)
			user, err := a.engine.VerifyToken(ctx, p)
			if err != nil {
				return fmt.Errorf("token stored but verification failed: %w", err)
			}
			fmt.Printf("%s %s token for %s\n", green("stored"), p.DisplayName(), bold(user))
			return nil
		})
	},
}

var tokenVerifyCmd = &cobra.Command{
	Use:   "verify <platform>",
	Short: "Check the credential in use for a platform",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := platform.ParsePlatform(args[0])
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			user, err := a.engine.VerifyToken(ctx, p)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s as %s\n", green("valid"), p.DisplayName(), bold(user))
			return nil
		})
	},
}

var tokenDeleteCmd = &cobra.Command{
	Use:   "delete <platform>",
	Short: "Remove a stored token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := platform.ParsePlatform(args[0])
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app) error {
			if err := a.tokens.Delete(p); err != nil {
				return err
			}
			fallback, _ := a.resolver.Token(p)
			a.factory.SetToken(p, fallback)
			a.engine.ClearRateLimit()
			fmt.Printf("%s %s token\n", green("deleted"), p.DisplayName())
			return nil
		})
	},
}

var licenseCmd = &cobra.Command{
	Use:   "license",
	Short: "Inspect or issue license keys",
}

var licenseStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether premium features are unlocked",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			if a.engine.Entitled(ctx) {
				fmt.Println(green("pro features enabled"))
			} else {
				fmt.Printf("free tier, up to %d repositories\n", a.cfg.Sync.FreeTierLimit)
			}
			return nil
		})
	},
}

var (
	licenseSecret  string
	licenseSubject string
	licenseDays    int
)

var licenseIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Sign a pro license key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if licenseSecret == "" {
			return errors.New("--secret is required")
		}
		expires := time.Now().Add(time.Duration(licenseDays) * 24 * time.Hour)
		key, err := entitlement.Issue([]byte(licenseSecret), licenseSubject, entitlement.PlanPro, expires)
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importPlatform, "platform", "github", "platform to list repositories from")
	importCmd.Flags().IntVar(&importPerPage, "per-page", 50, "repositories per page")
	importCmd.Flags().IntVar(&importPages, "pages", 1, "maximum number of pages to import")

	licenseIssueCmd.Flags().StringVar(&licenseSecret, "secret", os.Getenv("REPOWATCH_LICENSE_SECRET"), "HMAC signing secret")
	licenseIssueCmd.Flags().StringVar(&licenseSubject, "subject", "", "license holder")
	licenseIssueCmd.Flags().IntVar(&licenseDays, "days", 365, "validity in days")

	tokenCmd.AddCommand(tokenSetCmd, tokenVerifyCmd, tokenDeleteCmd)
	licenseCmd.AddCommand(licenseStatusCmd, licenseIssueCmd)
}
