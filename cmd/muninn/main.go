// Package main provides the Muninn CLI entry point.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muninndb/muninn/pkg/config"
	"github.com/muninndb/muninn/pkg/migrate"
	"github.com/muninndb/muninn/pkg/muninn"
	"github.com/muninndb/muninn/pkg/storage"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "muninn",
		Short: "Muninn - Embedded graph database with a Cypher dialect",
		Long: `Muninn is an embedded graph database written in Go.

Features:
  • Cypher-dialect queries compiled to a linear instruction program
  • In-memory property graph with OR-label lookup and BFS paths
  • Transactions with four isolation levels over a hash-chained WAL
  • Content-addressed snapshots in DAG-JSON, JSON Lines or CAR`,
	}

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Muninn v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	// Shell command (interactive Cypher REPL)
	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive Cypher shell",
		RunE:  runShell,
	}
	shellCmd.Flags().String("config", "", "Config file (default: search conventional locations)")
	shellCmd.Flags().String("data-dir", "", "Data directory (overrides config; empty = in-memory)")
	rootCmd.AddCommand(shellCmd)

	// Migrate command (snapshot format conversion)
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Convert a snapshot between formats",
		Long: `Convert a snapshot between dag-json, jsonl and car without opening
a database. The source format is detected from the bytes when --from
is omitted.`,
		RunE: runMigrate,
	}
	migrateCmd.Flags().String("from", "", "Source format (default: detect)")
	migrateCmd.Flags().String("to", "", "Target format: "+formatList())
	migrateCmd.Flags().String("in", "", "Input file (default: stdin)")
	migrateCmd.Flags().String("out", "", "Output file (default: stdout)")
	_ = migrateCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func formatList() string {
	formats := migrate.Formats()
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.FindConfigFile()
	}

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		fmt.Printf("📄 Loaded config from: %s\n", configPath)
	}

	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Database.DataDir = dataDir
	}
	return cfg, nil
}

func runShell(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if cfg.Database.DataDir != "" {
		fmt.Printf("📂 Opening database at %s...\n", cfg.Database.DataDir)
	} else {
		fmt.Println("📂 Opening in-memory database...")
	}

	db, err := muninn.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	fmt.Println("✅ Connected to Muninn")
	fmt.Println("Type ':quit' or Ctrl+D to quit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	ctx := context.Background()

	for {
		fmt.Print("muninn> ")
		if !scanner.Scan() {
			break // EOF or error
		}

		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if query == ":quit" || query == "exit" || query == "quit" {
			break
		}

		result, err := db.Execute(ctx, query, nil)
		if err != nil {
			fmt.Printf("❌ Error: %v\n\n", err)
			continue
		}
		if result.Summary.Error != "" {
			fmt.Printf("❌ %s error (%s): %s\n\n",
				result.Summary.ErrorStage, result.Summary.ErrorClass, result.Summary.Error)
			continue
		}

		if len(result.Columns) > 0 {
			header := strings.Join(result.Columns, " | ")
			fmt.Println(header)
			fmt.Println(strings.Repeat("-", len(header)))

			for _, row := range result.Records {
				values := make([]string, len(row))
				for i, v := range row {
					values[i] = fmt.Sprintf("%v", v)
				}
				fmt.Println(strings.Join(values, " | "))
			}
			fmt.Printf("\n(%d row(s))\n", len(result.Records))
		} else if result.Summary.Counters.ContainsUpdates() {
			c := result.Summary.Counters
			fmt.Printf("✅ Updated: +%d/-%d nodes, +%d/-%d relationships, %d properties\n",
				c.NodesCreated, c.NodesDeleted,
				c.RelationshipsCreated, c.RelationshipsDeleted, c.PropertiesSet)
		} else {
			fmt.Println("✅ Query executed successfully")
		}
		fmt.Println()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Println("👋 Goodbye!")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	fromName, _ := cmd.Flags().GetString("from")
	toName, _ := cmd.Flags().GetString("to")
	inPath, _ := cmd.Flags().GetString("in")
	outPath, _ := cmd.Flags().GetString("out")

	dstFormat, err := migrate.ParseFormat(toName)
	if err != nil {
		return err
	}

	var src io.Reader = os.Stdin
	if inPath != "" {
		f, err := os.Open(inPath)
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		src = f
	}

	var dst io.Writer = os.Stdout
	var outFile *os.File
	if outPath != "" {
		outFile, err = os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer outFile.Close()
		dst = outFile
	}

	var srcFormat storage.Format
	if fromName != "" {
		srcFormat, err = migrate.ParseFormat(fromName)
		if err != nil {
			return err
		}
		err = migrate.Convert(src, srcFormat, dst, dstFormat)
	} else {
		srcFormat, err = migrate.ConvertDetect(src, dst, dstFormat)
	}
	if err != nil {
		return err
	}

	if outFile != nil {
		if err := outFile.Sync(); err != nil {
			return fmt.Errorf("flushing output: %w", err)
		}
		fmt.Printf("✅ Wrote %s (%s -> %s)\n", outPath, srcFormat, dstFormat)
	}
	return nil
}
