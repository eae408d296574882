package cli

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/liangyou/fwinstall/internal/install"
	"github.com/liangyou/fwinstall/internal/reconcile"
	"github.com/liangyou/fwinstall/internal/remote"
	"github.com/liangyou/fwinstall/pkg/models"
)

func (a *App) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List published firmware versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.services()
			if err != nil {
				return err
			}
			catalog, err := a.fetchCatalog(cmd.Context(), svc)
			if err != nil {
				return err
			}
			current, err := svc.Catalog.CurrentVersion()
			if err != nil {
				a.warn("Cannot read the installed version: %v", err)
			}
			a.printCatalog(catalog, current)
			return nil
		},
	}
}

// printCatalog 输出编号列表、最新版本以及是否有更新。
func (a *App) printCatalog(catalog *remote.Catalog, current string) {
	fmt.Fprintln(a.out, "Available versions:")
	for _, entry := range catalog.Entries() {
		line := install.FormatEntry(entry, current)
		if entry.Version.Beta() {
			line += " " + color.YellowString("(beta)")
		}
		fmt.Fprintln(a.out, line)
	}
	latest, _ := catalog.Latest()
	fmt.Fprintf(a.out, "\nLatest version: %s\n", latest.Version)

	switch {
	case current == "":
		a.info("Installed version: unknown")
	case catalog.NewerThan(current):
		a.info("Installed version: %s, update available: %s", current, latest.Version)
	default:
		a.info("Installed version: %s, up to date", current)
	}
}

func (a *App) checkCmd() *cobra.Command {
	var current string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether a newer version is published",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.services()
			if err != nil {
				return err
			}
			newer, latest, err := svc.Catalog.UpdateAvailable(cmd.Context(), current)
			if err != nil {
				svc.Logger.Error("check for updates", "error", err)
				a.errorMsg("No versions found: %v", err)
				return errReported
			}
			if latest.Version.IsZero() {
				a.errorMsg("No versions found")
				return errReported
			}
			if newer {
				a.success("Newer version available: %s", latest.Version)
			} else {
				a.info("No newer version than the installed one (latest is %s)", latest.Version)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&current, "current", "", "Compare against this version instead of the installed marker")
	return cmd
}

type installFlags struct {
	latest    bool
	selection string
	yes       bool
	reboot    bool
}

func (a *App) installCmd() *cobra.Command {
	var flags installFlags

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install one or more firmware versions",
		Long: `Install downloads each selected version, backs up the configuration files,
extracts the archive, carries the previous settings over into the new files
and runs the install hooks. Without --latest or --select the versions are
chosen interactively.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runInstall(cmd, flags)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&flags.latest, "latest", false, "Install the latest version")
	f.StringVar(&flags.selection, "select", "", "Comma separated list numbers to install, e.g. 1,3")
	f.BoolVarP(&flags.yes, "yes", "y", false, "Answer yes to every confirmation")
	f.BoolVar(&flags.reboot, "reboot", false, "Reboot after a successful install without asking")
	cmd.MarkFlagsMutuallyExclusive("latest", "select")
	return cmd
}

func (a *App) runInstall(cmd *cobra.Command, flags installFlags) error {
	ctx := cmd.Context()
	svc, err := a.services()
	if err != nil {
		return err
	}

	catalog, err := a.fetchCatalog(ctx, svc)
	if err != nil {
		return err
	}
	current, _ := svc.Catalog.CurrentVersion()

	entries, err := a.chooseEntries(catalog, current, flags)
	if err != nil {
		return err
	}

	if !flags.yes && a.interactive() && hasBeta(entries) {
		ok, err := a.confirm("The selection contains beta versions. Continue?")
		if err != nil {
			return err
		}
		if !ok {
			a.info("Installation cancelled")
			return nil
		}
	}

	if svc.Preflight != nil {
		warnings, err := svc.Preflight()
		if err != nil {
			return err
		}
		for _, w := range warnings {
			a.warn("%s", w)
		}
	}

	session := svc.Installer.Run(ctx, entries)
	if svc.Flush != nil {
		if err := svc.Flush(); err != nil {
			a.warn("Cannot write metrics: %v", err)
		}
	}
	a.printSummary(session)

	if !session.Succeeded() {
		return errReported
	}
	return a.maybeReboot(cmd, svc, flags)
}

// chooseEntries 按参数或交互输入确定要安装的条目。
func (a *App) chooseEntries(catalog *remote.Catalog, current string, flags installFlags) ([]models.CatalogEntry, error) {
	switch {
	case flags.latest:
		latest, _ := catalog.Latest()
		return []models.CatalogEntry{latest}, nil
	case flags.selection != "":
		entries, err := catalog.Select(flags.selection)
		if err != nil {
			return nil, fmt.Errorf("invalid selection: %w", err)
		}
		return entries, nil
	case !a.interactive():
		return nil, errors.New("no version selected, pass --latest or --select when not running in a terminal")
	}

	a.printCatalog(catalog, current)
	fmt.Fprintln(a.out)
	return a.promptSelection(catalog)
}

func (a *App) maybeReboot(cmd *cobra.Command, svc *Services, flags installFlags) error {
	reboot := flags.reboot || flags.yes
	if !reboot && a.interactive() {
		ok, err := a.confirm("Reboot now to activate the new firmware?")
		if err != nil && !errors.Is(err, errNoInput) {
			return err
		}
		reboot = ok
	}
	if !reboot {
		a.info("Reboot the device to activate the new firmware.")
		return nil
	}
	if svc.Rebooter == nil {
		return errors.New("reboot is not available")
	}
	a.info("Rebooting...")
	return svc.Rebooter.Reboot(cmd.Context())
}

// printSummary 输出每个版本的结果、警告与丢弃的设置。
func (a *App) printSummary(session *models.InstallSession) {
	fmt.Fprintln(a.out, "\nSummary:")
	for _, r := range session.Results {
		switch r.Status {
		case models.StatusSuccess:
			a.success("%s: installed", r.Entry.Version)
		case models.StatusSkipped:
			a.warn("%s: skipped (%v)", r.Entry.Version, r.Err)
		default:
			a.errorMsg("%s: failed while %s: %v", r.Entry.Version, r.FailedAt, r.Err)
		}
		for _, w := range r.Warnings {
			a.warn("%s: %s", r.Entry.Version, w)
		}
		if len(r.Dropped) > 0 {
			a.info("settings no longer supported and dropped: %s", strings.Join(r.Dropped, ", "))
		}
	}
}

func hasBeta(entries []models.CatalogEntry) bool {
	for _, e := range entries {
		if e.Version.Beta() {
			return true
		}
	}
	return false
}

func (a *App) reconcileCmd() *cobra.Command {
	var (
		kind     string
		defaults string
		backup   string
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Merge settings from a backup into a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.services()
			if err != nil {
				return err
			}
			k := models.ArtifactKind(strings.ToLower(kind))
			if k != models.ArtifactINI && k != models.ArtifactJSON {
				return fmt.Errorf("unsupported kind %q, use ini or json", kind)
			}

			r := reconcile.NewReconciler(
				reconcile.WithLogger(svc.Logger.Named("reconcile")),
				reconcile.WithDryRun(dryRun),
			)
			outcome, err := r.Reconcile(k, defaults, backup)
			if err != nil {
				return err
			}
			a.printOutcome(outcome, dryRun)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&kind, "kind", "", "File format: ini or json")
	f.StringVar(&defaults, "default", "", "Newly installed default file, rewritten in place")
	f.StringVar(&backup, "backup", "", "Backup holding the previous settings")
	f.BoolVar(&dryRun, "dry-run", false, "Report the changes without writing")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("default")
	_ = cmd.MarkFlagRequired("backup")
	return cmd
}

func (a *App) printOutcome(o reconcile.Outcome, dryRun bool) {
	if o.Skipped {
		a.info("Nothing to reconcile for %s", o.Path)
		return
	}
	r := o.Report
	switch {
	case o.Written:
		a.success("Updated %s", o.Path)
	case dryRun:
		a.info("Dry run, %s not modified", o.Path)
	default:
		a.info("%s already up to date", o.Path)
	}
	a.info("kept %d (changed %d), new defaults %d, dropped %d", len(r.Kept), len(r.Changed), len(r.Added), len(r.Dropped))
	for _, key := range r.Dropped {
		a.info("dropped %s", key)
	}
	for _, key := range r.Replaced {
		a.warn("%s changed type upstream, kept the new default", key)
	}
}

func (a *App) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show completed installs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := a.services()
			if err != nil {
				return err
			}
			records, err := svc.Catalog.History()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(a.out, "No installs recorded.")
				return nil
			}
			for _, r := range records {
				fmt.Fprintln(a.out, install.FormatRecord(r))
			}
			return nil
		},
	}
}

func (a *App) versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			if short {
				fmt.Fprintln(a.out, a.version)
				return
			}
			fmt.Fprintf(a.out, "fwinstall %s\n", a.version)
			fmt.Fprintf(a.out, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(a.out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")
	return cmd
}
