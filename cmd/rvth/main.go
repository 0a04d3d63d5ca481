package main

import (
	"fmt"
	"log"
	"os"

	"github.com/bodgit/rvth"
	"github.com/hashicorp/go-multierror"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var fs = afero.NewOsFs()

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print the version",
	}
}

func newProgressBar(description string) *progressbar.ProgressBar {
	return progressbar.DefaultBytes(-1, description)
}

func progressFunc(bar *progressbar.ProgressBar) rvth.ProgressFunc {
	return func(s rvth.State) bool {
		if bar.GetMax64() != int64(s.LBATotal)*rvth.LBASize {
			bar.ChangeMax64(int64(s.LBATotal) * rvth.LBASize)
		}
		_ = bar.Set64(int64(s.LBAProcessed) * rvth.LBASize)
		return true
	}
}

func list(path string) error {
	r, err := rvth.Open(fs, path)
	if err != nil {
		return err
	}
	defer r.Close()

	fmt.Printf("%s: HDD=%v banks=%d\n", path, r.IsHDD(), r.BankCount())
	for i := uint32(0); i < r.BankCount(); i++ {
		b, err := r.Bank(i)
		if err != nil {
			return err
		}
		status := "empty"
		switch {
		case b.IsDeleted:
			status = "deleted"
		case b.Type != rvth.BankTypeEmpty:
			status = "present"
		}
		fmt.Printf("  bank %2d: %-8s type=%d crypto=%d region=%08x\n", i, status, b.Type, b.CryptoType, b.RegionCode)
	}
	return nil
}

func extract(srcPath string, bank uint32, dstPath string, verbose bool) error {
	src, err := rvth.Open(fs, srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	var bar *progressbar.ProgressBar
	var pf rvth.ProgressFunc
	if verbose {
		bar = newProgressBar(fmt.Sprintf("extracting bank %d", bank))
		pf = progressFunc(bar)
	}

	return src.Extract(bank, dstPath, rvth.CryptoUnknown, 0, pf)
}

func importImage(dstPath string, bank uint32, srcPath string, writable, verbose bool) error {
	dst, err := rvth.Open(fs, dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	if writable {
		if err := dst.MakeWritable(); err != nil {
			return err
		}
	}

	var bar *progressbar.ProgressBar
	var pf rvth.ProgressFunc
	if verbose {
		bar = newProgressBar(fmt.Sprintf("importing to bank %d", bank))
		pf = progressFunc(bar)
	}

	return dst.Import(bank, srcPath, pf)
}

func recrypt(path string, bank uint32, target string, verbose bool) error {
	r, err := rvth.Open(fs, path)
	if err != nil {
		return err
	}
	defer r.Close()

	var ct rvth.CryptoType
	switch target {
	case "retail":
		ct = rvth.CryptoRetail
	case "korean":
		ct = rvth.CryptoKorean
	case "debug":
		ct = rvth.CryptoDebug
	case "none":
		ct = rvth.CryptoNone
	default:
		return fmt.Errorf("unknown crypto type %q", target)
	}

	var pf rvth.ProgressFunc
	if verbose {
		bar := newProgressBar(fmt.Sprintf("recrypting bank %d", bank))
		pf = progressFunc(bar)
	}

	return r.RecryptPartitions(bank, ct, pf)
}

func deleteBank(path string, bank uint32, undelete bool) error {
	r, err := rvth.Open(fs, path)
	if err != nil {
		return err
	}
	defer r.Close()

	if undelete {
		return r.UndeleteBank(bank)
	}
	return r.DeleteBank(bank)
}

func main() {
	app := &cli.App{
		Name:    "rvth",
		Usage:   "inspect and manipulate RVT-H Reader HDD images and disc images",
		Version: fmt.Sprintf("%s, commit %s, built at %s", version, commit, date),
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "list banks in an RVT-H image",
				ArgsUsage: "image",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.ShowSubcommandHelp(c)
					}
					return list(c.Args().Get(0))
				},
			},
			{
				Name:      "extract",
				Usage:     "extract a bank to a standalone disc image",
				ArgsUsage: "image bank destination",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 3 {
						return cli.ShowSubcommandHelp(c)
					}
					var bank uint32
					if _, err := fmt.Sscanf(c.Args().Get(1), "%d", &bank); err != nil {
						return err
					}
					return extract(c.Args().Get(0), bank, c.Args().Get(2), c.Bool("verbose"))
				},
			},
			{
				Name:      "import",
				Usage:     "import a standalone disc image into a bank",
				ArgsUsage: "image bank source",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
					&cli.BoolFlag{Name: "writable", Aliases: []string{"w"}},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 3 {
						return cli.ShowSubcommandHelp(c)
					}
					var bank uint32
					if _, err := fmt.Sscanf(c.Args().Get(1), "%d", &bank); err != nil {
						return err
					}
					return importImage(c.Args().Get(0), bank, c.Args().Get(2), c.Bool("writable"), c.Bool("verbose"))
				},
			},
			{
				Name:      "recrypt",
				Usage:     "re-sign and re-encrypt a bank's partitions",
				ArgsUsage: "image bank retail|korean|debug|none",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 3 {
						return cli.ShowSubcommandHelp(c)
					}
					var bank uint32
					if _, err := fmt.Sscanf(c.Args().Get(1), "%d", &bank); err != nil {
						return err
					}
					return recrypt(c.Args().Get(0), bank, c.Args().Get(2), c.Bool("verbose"))
				},
			},
			{
				Name:      "delete",
				Usage:     "mark a bank as deleted",
				ArgsUsage: "image bank",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return cli.ShowSubcommandHelp(c)
					}
					var bank uint32
					if _, err := fmt.Sscanf(c.Args().Get(1), "%d", &bank); err != nil {
						return err
					}
					return deleteBank(c.Args().Get(0), bank, false)
				},
			},
			{
				Name:      "undelete",
				Usage:     "restore a previously deleted bank",
				ArgsUsage: "image bank",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return cli.ShowSubcommandHelp(c)
					}
					var bank uint32
					if _, err := fmt.Sscanf(c.Args().Get(1), "%d", &bank); err != nil {
						return err
					}
					return deleteBank(c.Args().Get(0), bank, true)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		var result *multierror.Error
		if me, ok := err.(*multierror.Error); ok {
			result = me
		} else {
			result = multierror.Append(result, err)
		}
		log.Fatal(result.ErrorOrNil())
	}
}
