// Command admin is the offline operator tool: list and inspect delete
// backups, and restore a backed-up instance into a world file.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	adminpkg "dreamfield.world/internal/admin"
	"dreamfield.world/internal/persistence/backup"
	"dreamfield.world/internal/sim/state"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "show":
			showCmd(os.Args[2:])
			return
		case "restore":
			restoreCmd(os.Args[2:])
			return
		case "list":
			listCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func openBackups(dir string) *backup.Store {
	s, err := backup.Open(dir, 0, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open backups:", err)
		os.Exit(1)
	}
	return s
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dir := fs.String("backups", "data/backups", "backup directory")
	limit := fs.Int("n", 20, "max entries (0: all)")
	_ = fs.Parse(args)

	s := openBackups(*dir)
	defer s.Close()

	list, err := s.List(*limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tPATH")
	for _, b := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\n", b.ID, b.Created.Format(time.RFC3339), b.Path)
	}
	_ = w.Flush()
}

func showCmd(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	dir := fs.String("backups", "data/backups", "backup directory")
	id := fs.Int64("id", 0, "backup id")
	_ = fs.Parse(args)

	s := openBackups(*dir)
	defer s.Close()

	path, value, err := s.Read(*id)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	body, _ := json.MarshalIndent(value, "", "  ")
	fmt.Printf("%s\n%s\n", path, body)
}

// restoreCmd re-inserts a backed-up instance into a world file. Run it
// against a stopped server; the file is rewritten in place.
func restoreCmd(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	dir := fs.String("backups", "data/backups", "backup directory")
	id := fs.Int64("id", 0, "backup id")
	worldFile := fs.String("world", "configs/world.json", "world file to restore into")
	_ = fs.Parse(args)

	s := openBackups(*dir)
	defer s.Close()

	path, value, err := s.Read(*id)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	container, err := adminpkg.ContainerPath(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "container:", err)
		os.Exit(1)
	}

	tree, err := state.LoadTree(*worldFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load world:", err)
		os.Exit(1)
	}
	store, err := state.NewStore(tree, nil, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "world state:", err)
		os.Exit(1)
	}
	_, err = store.Mutate(func(tx *state.Tx) error {
		_, aerr := tx.AddInstance(container, value)
		return aerr
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "restore:", err)
		os.Exit(1)
	}

	var out []byte
	store.Read(func(t *state.Tree, _ uint64) {
		out, err = json.MarshalIndent(t, "", "  ")
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "encode world:", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*worldFile, append(out, '\n'), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "write world:", err)
		os.Exit(1)
	}
	fmt.Printf("restored %s into %s\n", path, container)
}
