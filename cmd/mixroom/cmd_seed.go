/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/friendsincode/mixroom/internal/catalog"
)

var (
	seedFilePath string
	seedDryRun   bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the track catalog from a JSON file",
	Long: `Load track metadata into the catalog database.

The input file is a JSON array of tracks:

  [
    {"id": "trk-1", "title": "Example", "artist": "Someone", "durationSec": 214.5, "bpm": 126}
  ]

Existing tracks with the same id are overwritten.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringVar(&seedFilePath, "file", "", "Path to the JSON track list (required)")
	seedCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "Parse and validate without writing")
	seedCmd.MarkFlagRequired("file")
}

func runSeed(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	data, err := os.ReadFile(seedFilePath)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var tracks []catalog.Track
	if err := json.Unmarshal(data, &tracks); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}
	for i, track := range tracks {
		if track.ID == "" {
			return fmt.Errorf("track %d: missing id", i)
		}
	}

	if seedDryRun {
		logger.Info().Int("tracks", len(tracks)).Msg("seed file valid (dry run)")
		return nil
	}

	db, err := catalog.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect catalog: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	for _, track := range tracks {
		t := track
		if err := db.Save(ctx, &t); err != nil {
			return fmt.Errorf("save track %s: %w", track.ID, err)
		}
	}

	logger.Info().Int("tracks", len(tracks)).Msg("catalog seeded")
	return nil
}
