// Package cli provides the interactive command shell.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gcp-tagger/internal/app"
	"gcp-tagger/internal/config"
	"gcp-tagger/internal/image"
	"gcp-tagger/internal/tagging"
)

// DetectTimeout bounds a single detect command.
const DetectTimeout = 2 * time.Minute

// errQuit ends the read loop.
var errQuit = errors.New("quit")

// Shell reads commands line by line and applies them to the application state.
type Shell struct {
	State  *app.State
	Config *config.Config
	Prefs  *config.Prefs // Optional

	in  *bufio.Scanner
	out io.Writer
}

type command struct {
	usage string
	help  string
	run   func(sh *Shell, ctx context.Context, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"help":      {"help", "list commands", (*Shell).cmdHelp},
		"open":      {"open <project>", "open or create a project (.gcpproj or .db)", (*Shell).cmdOpen},
		"save":      {"save", "save the project", (*Shell).cmdSave},
		"load-gcps": {"load-gcps <file>", "read the GCP list and projection", (*Shell).cmdLoadGCPs},
		"gcps":      {"gcps", "list GCPs with their tag counts", (*Shell).cmdGCPs},
		"images":    {"images", "list registered images", (*Shell).cmdImages},
		"gps":       {"gps <image>", "show the EXIF GPS position of an image", (*Shell).cmdGPS},
		"info":      {"info <image>", "show the size and location of an image", (*Shell).cmdInfo},
		"tag":       {"tag <gcp>", "start tagging images for a GCP", (*Shell).cmdTag},
		"rows":      {"rows", "show the images of the tagging session", (*Shell).cmdRows},
		"import":    {"import <file>...", "add images to the session", (*Shell).cmdImport},
		"pin":       {"pin <image> <x> <y>", "place the GCP in an image", (*Shell).cmdPin},
		"detect":    {"detect <image>", "search an image for the marker", (*Shell).cmdDetect},
		"remove":    {"remove <image>", "remove an image from the project", (*Shell).cmdRemove},
		"ok":        {"ok", "commit the tagging session", (*Shell).cmdCommit},
		"back":      {"back", "discard the tagging session", (*Shell).cmdBack},
		"export":    {"export <file>", "write a gcp_list.txt for bundle adjustment", (*Shell).cmdExport},
		"license":   {"license", "show the license state", (*Shell).cmdLicense},
		"quit":      {"quit", "leave", (*Shell).cmdQuit},
	}
}

// New creates a shell reading from in and writing to out.
func New(state *app.State, cfg *config.Config, prefs *config.Prefs, in io.Reader, out io.Writer) *Shell {
	return &Shell{
		State:  state,
		Config: cfg,
		Prefs:  prefs,
		in:     bufio.NewScanner(in),
		out:    out,
	}
}

// Run processes commands until quit, end of input, or ctx ends. Command
// errors are printed and do not stop the loop.
func (sh *Shell) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		sh.prompt()
		line, ok := sh.readLine()
		if !ok {
			return sh.in.Err()
		}
		if err := sh.Exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(sh.out, "error: %v\n", err)
		}
	}
}

// Exec runs a single command line.
func (sh *Shell) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, ok := commands[fields[0]]
	if !ok {
		return fmt.Errorf("unknown command %q (try help)", fields[0])
	}
	return cmd.run(sh, ctx, fields[1:])
}

func (sh *Shell) prompt() {
	if sess := sh.State.Session(); sess != nil {
		fmt.Fprintf(sh.out, "%s> ", sess.GCP().Name)
		return
	}
	fmt.Fprint(sh.out, "> ")
}

func (sh *Shell) readLine() (string, bool) {
	if !sh.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(sh.in.Text()), true
}

func (sh *Shell) session() (*tagging.Session, error) {
	sess := sh.State.Session()
	if sess == nil {
		return nil, fmt.Errorf("no tagging session (use tag <gcp>)")
	}
	return sess, nil
}

func need(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: %s", usage)
	}
	return nil
}

// confirm asks a yes/no question on the shell input.
func (sh *Shell) confirm(question string) bool {
	fmt.Fprintf(sh.out, "%s [y/N] ", question)
	answer, ok := sh.readLine()
	if !ok {
		return false
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}

func (sh *Shell) setPref(key, value string) {
	if sh.Prefs == nil {
		return
	}
	sh.Prefs.SetString(key, value)
	if err := sh.Prefs.Save(); err != nil {
		fmt.Fprintf(sh.out, "warning: saving preferences: %v\n", err)
	}
}

func (sh *Shell) cmdHelp(ctx context.Context, args []string) error {
	for _, name := range commandOrder {
		c := commands[name]
		fmt.Fprintf(sh.out, "  %-22s %s\n", c.usage, c.help)
	}
	return nil
}

var commandOrder = []string{
	"open", "save", "load-gcps", "gcps", "images", "gps", "info",
	"tag", "rows", "import", "pin", "detect", "remove", "ok", "back",
	"export", "license", "help", "quit",
}

func (sh *Shell) cmdOpen(ctx context.Context, args []string) error {
	if err := need(args, 1, "open <project>"); err != nil {
		return err
	}
	return sh.Open(ctx, args[0])
}

// Open makes the project at path current, creating it on first save.
func (sh *Shell) Open(ctx context.Context, path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	backend, closeFn, err := app.OpenBackend(path, sh.Config.Storage)
	if err != nil {
		return err
	}
	if err := sh.State.LoadProject(ctx, path, backend, closeFn); err != nil {
		closeFn()
		return err
	}
	sh.setPref(config.PrefLastProject, path)
	snap := sh.State.Snapshot()
	fmt.Fprintf(sh.out, "%s: %d gcps, %d images, %d tags\n",
		filepath.Base(path), len(snap.GCPs), len(snap.Images), len(snap.Associations))
	return nil
}

func (sh *Shell) cmdSave(ctx context.Context, args []string) error {
	if err := sh.State.SaveProject(ctx); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "saved %s\n", sh.State.CurrentPath())
	return nil
}

func (sh *Shell) cmdLoadGCPs(ctx context.Context, args []string) error {
	if err := need(args, 1, "load-gcps <file>"); err != nil {
		return err
	}
	if err := sh.State.ImportGCPs(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "%d gcps (%s)\n", len(sh.State.GCPs()), sh.State.Projection().Definition)
	return nil
}

func (sh *Shell) cmdGCPs(ctx context.Context, args []string) error {
	gcps := sh.State.GCPs()
	if len(gcps) == 0 {
		fmt.Fprintln(sh.out, "no gcps loaded")
		return nil
	}
	for _, g := range gcps {
		tagged := 0
		for _, a := range sh.State.Store.ListForGCP(g.Name) {
			if a.IsTagged() {
				tagged++
			}
		}
		fmt.Fprintf(sh.out, "  %-10s %12.3f %12.3f %8.3f  %d images\n",
			g.Name, g.Easting, g.Northing, g.Elevation, tagged)
	}
	return nil
}

func (sh *Shell) cmdImages(ctx context.Context, args []string) error {
	images := sh.State.Registry.List()
	if len(images) == 0 {
		fmt.Fprintln(sh.out, "no images")
		return nil
	}
	for _, img := range images {
		fmt.Fprintf(sh.out, "  %-24s %s\n", img.Name, img.Path)
	}
	return nil
}

func (sh *Shell) cmdGPS(ctx context.Context, args []string) error {
	if err := need(args, 1, "gps <image>"); err != nil {
		return err
	}
	if !sh.State.Registry.Has(args[0]) {
		return fmt.Errorf("unknown image %q", args[0])
	}
	c, ok := sh.State.Registry.GPSCoords(ctx, args[0])
	if !ok {
		fmt.Fprintf(sh.out, "%s: no GPS position\n", args[0])
		return nil
	}
	fmt.Fprintf(sh.out, "%s: lat %.7f lng %.7f alt %.1f\n", args[0], c.Lat, c.Lng, c.Alt)
	return nil
}

func (sh *Shell) cmdInfo(ctx context.Context, args []string) error {
	if err := need(args, 1, "info <image>"); err != nil {
		return err
	}
	img, err := sh.State.Registry.Get(args[0])
	if err != nil {
		return err
	}
	pix, err := sh.State.Registry.Decode(img.Name)
	if err != nil {
		return err
	}
	b := pix.Bounds()
	fmt.Fprintf(sh.out, "%s: %dx%d px\n", img.Name, b.Dx(), b.Dy())
	fmt.Fprintf(sh.out, "  path: %s\n", img.Path)
	if u, ok := sh.State.Registry.ResolveContentURL(img.Name); ok {
		fmt.Fprintf(sh.out, "  url:  %s\n", u)
	}
	for _, a := range sh.State.Store.ListForImage(img.Name) {
		if a.IsTagged() {
			fmt.Fprintf(sh.out, "  %s at %.1f,%.1f\n", a.GCPName, a.ImX, a.ImY)
		}
	}
	return nil
}

func (sh *Shell) cmdTag(ctx context.Context, args []string) error {
	if err := need(args, 1, "tag <gcp>"); err != nil {
		return err
	}
	if _, err := sh.State.OpenSession(args[0]); err != nil {
		return err
	}
	sh.setPref(config.PrefLastGCP, args[0])
	return sh.cmdRows(ctx, nil)
}

func (sh *Shell) cmdRows(ctx context.Context, args []string) error {
	sess, err := sh.session()
	if err != nil {
		return err
	}
	rows := sess.Rows()
	if len(rows) == 0 {
		fmt.Fprintln(sh.out, "no images (use import <file>...)")
		return nil
	}
	for _, r := range rows {
		pin := "-"
		if r.Pin != nil {
			pin = fmt.Sprintf("%.1f,%.1f", r.Pin.X, r.Pin.Y)
		}
		fmt.Fprintf(sh.out, "  %-40s %-16s %s\n", r.Label(), r.Status(), pin)
	}
	return nil
}

func (sh *Shell) cmdImport(ctx context.Context, args []string) error {
	if err := need(args, 1, "import <file>..."); err != nil {
		return err
	}
	sess, err := sh.session()
	if err != nil {
		return err
	}

	images := make([]image.Image, 0, len(args))
	for _, path := range args {
		if !image.IsSupportedFormat(path) {
			return fmt.Errorf("%s: unsupported image format", path)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		images = append(images, image.FromFile(abs))
	}
	if err := sess.Import(images...); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "imported %d images\n", len(images))
	return nil
}

func (sh *Shell) cmdPin(ctx context.Context, args []string) error {
	if err := need(args, 3, "pin <image> <x> <y>"); err != nil {
		return err
	}
	sess, err := sh.session()
	if err != nil {
		return err
	}
	x, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid x %q", args[1])
	}
	y, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid y %q", args[2])
	}
	return sess.Pin(args[0], x, y)
}

func (sh *Shell) cmdDetect(ctx context.Context, args []string) error {
	if err := need(args, 1, "detect <image>"); err != nil {
		return err
	}
	sess, err := sh.session()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, DetectTimeout)
	defer cancel()

	center, found, err := sess.Detect(ctx, args[0]).Wait(ctx)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintf(sh.out, "%s: no marker found\n", args[0])
		return nil
	}
	fmt.Fprintf(sh.out, "%s: marker at %.1f,%.1f\n", args[0], center.X, center.Y)
	return nil
}

func (sh *Shell) cmdRemove(ctx context.Context, args []string) error {
	if err := need(args, 1, "remove <image>"); err != nil {
		return err
	}
	sess, err := sh.session()
	if err != nil {
		return err
	}
	removed, err := sess.Remove(args[0], func(row tagging.Row) bool {
		return sh.confirm(fmt.Sprintf("%s is also tagged for %s. Remove it anyway?",
			row.ImageName(), strings.Join(row.OtherGCPs, ", ")))
	})
	if err != nil {
		return err
	}
	if removed {
		fmt.Fprintf(sh.out, "removed %s\n", args[0])
	} else {
		fmt.Fprintf(sh.out, "kept %s\n", args[0])
	}
	return nil
}

func (sh *Shell) cmdCommit(ctx context.Context, args []string) error {
	sess, err := sh.session()
	if err != nil {
		return err
	}
	name := sess.GCP().Name
	if err := sh.State.CommitSession(); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "committed %s\n", name)
	return nil
}

func (sh *Shell) cmdBack(ctx context.Context, args []string) error {
	if _, err := sh.session(); err != nil {
		return err
	}
	sh.State.CloseSession()
	return nil
}

func (sh *Shell) cmdExport(ctx context.Context, args []string) error {
	if err := need(args, 1, "export <file>"); err != nil {
		return err
	}
	n, err := sh.State.ExportBundler(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "wrote %d tags to %s\n", n, args[0])
	return nil
}

func (sh *Shell) cmdLicense(ctx context.Context, args []string) error {
	if sh.State.IsLicensed() {
		fmt.Fprintln(sh.out, "licensed")
	} else {
		fmt.Fprintln(sh.out, "unlicensed")
	}
	return nil
}

func (sh *Shell) cmdQuit(ctx context.Context, args []string) error {
	if sh.State.IsModified() && !sh.confirm("Discard unsaved changes?") {
		return nil
	}
	return errQuit
}
