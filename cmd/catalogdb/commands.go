package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/juju/errors"

	"media-catalog/internal/catalog"
	"media-catalog/internal/coredb"
	"media-catalog/internal/filesystem"
	"media-catalog/internal/scanner"
)

func (a *app) check(ctx context.Context, _ []string) error {
	if err := a.ensureReady(ctx); err != nil {
		return err
	}
	return a.core.WithAccess(ctx, func(acc *coredb.Access) error {
		version, err := acc.DB().Setting(ctx, "DBVersion")
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "OK: schema version %s, database %s\n", version, a.core.DatabaseID())
		return nil
	})
}

func (a *app) status(ctx context.Context, _ []string) error {
	if err := a.ensureReady(ctx); err != nil {
		return err
	}
	return a.core.WithAccess(ctx, func(acc *coredb.Access) error {
		db := acc.DB()
		version, err := db.Setting(ctx, "DBVersion")
		if err != nil {
			return err
		}
		stats, err := db.Stats(ctx)
		if err != nil {
			return err
		}
		roots, err := db.AlbumRoots(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(a.out, "Database:  %s\n", acc.Parameters().Redacted())
		fmt.Fprintf(a.out, "Id:        %s\n", a.core.DatabaseID())
		fmt.Fprintf(a.out, "Schema:    %s\n", version)
		fmt.Fprintf(a.out, "Images:    %d\n", stats.Images)
		fmt.Fprintf(a.out, "Tags:      %d\n", stats.Tags)
		if len(roots) == 0 {
			fmt.Fprintln(a.out, "No album roots. Add one with: catalogdb add-root <path>")
			return nil
		}

		fmt.Fprintln(a.out)
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tLABEL\tIMAGES\tSTATUS\tPATH")
		for _, root := range roots {
			n, err := db.CountImages(ctx, root.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", root.ID, root.Label, n, rootStatus(root), root.SpecificPath)
		}
		return tw.Flush()
	})
}

func rootStatus(root catalog.AlbumRoot) string {
	if root.Status != catalog.AlbumRootAvailable {
		return "hidden"
	}
	if _, err := filesystem.StatWithRetry(root.SpecificPath, filesystem.DefaultRetryConfig()); err != nil {
		return "missing"
	}
	return "available"
}

func (a *app) addRoot(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: catalogdb add-root <path>")
	}
	path, err := filepath.Abs(args[0])
	if err != nil {
		return errors.Trace(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return errors.Trace(err)
	}
	if !info.IsDir() {
		return errors.NotValidf("non-directory album root %s", path)
	}
	if err := a.ensureReady(ctx); err != nil {
		return err
	}

	var root catalog.AlbumRoot
	err = a.core.WithAccess(ctx, func(acc *coredb.Access) error {
		root, err = acc.DB().AddAlbumRoot(ctx, "", path)
		if err != nil {
			return err
		}
		// New roots must be resolvable before the next rescan.
		return a.locations.Refresh(ctx, acc.DB())
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Album root %d: %s (%s)\n", root.ID, root.SpecificPath, root.Label)
	return nil
}

func (a *app) newScanner() *scanner.Scanner {
	return scanner.New(a.core, scanner.Config{
		Interval: a.cfg.RescanInterval,
		Retry:    filesystem.RetryConfig{Roots: a.locations},
	})
}

func (a *app) rescan(ctx context.Context, _ []string) error {
	if err := a.ensureReady(ctx); err != nil {
		return err
	}
	result, err := a.newScanner().Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Rescanned %d roots: %d images, %d removed\n", result.Roots, result.Files, result.Removed)
	return nil
}
