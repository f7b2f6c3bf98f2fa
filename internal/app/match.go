package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/romscraper/internal/engine"
	"github.com/xxxsen/romscraper/internal/gamelist"
	"github.com/xxxsen/romscraper/internal/platform"
	"github.com/xxxsen/romscraper/internal/scanner"
)

// MatchCommand runs the matcher for a single file name and prints the
// outcome as JSON, without touching any folder.
type MatchCommand struct {
	platform string
	name     string
	metadata string

	out io.Writer
}

// MatchResult is the JSON printed by the match command.
type MatchResult struct {
	Platform  string         `json:"platform"`
	File      string         `json:"file"`
	Candidate string         `json:"candidate"`
	Matched   bool           `json:"matched"`
	Exact     bool           `json:"exact"`
	Score     float64        `json:"score"`
	Record    *gamelist.Game `json:"record,omitempty"`
}

func NewMatchCommand() *MatchCommand { return &MatchCommand{out: os.Stdout} }

func (c *MatchCommand) Name() string { return "match" }

func (c *MatchCommand) Desc() string {
	return "对单个文件名执行匹配并输出 JSON 结果"
}

func (c *MatchCommand) Init(f *pflag.FlagSet) {
	f.StringVar(&c.platform, "platform", "", "平台目录名(如 snes)或 LaunchBox 平台名")
	f.StringVar(&c.name, "name", "", "ROM 文件名")
	f.StringVar(&c.metadata, "metadata", "", "Metadata.xml 路径，默认使用配置")
}

func (c *MatchCommand) PreRun(ctx context.Context) error {
	if strings.TrimSpace(c.platform) == "" || strings.TrimSpace(c.name) == "" {
		return errors.New("match requires --platform and --name")
	}
	logutil.GetLogger(ctx).Info("starting match",
		zap.String("platform", c.platform),
		zap.String("name", c.name),
	)
	return nil
}

func (c *MatchCommand) Run(ctx context.Context) error {
	cfg := ConfigFromContext(ctx)
	db, err := loadDatabase(ctx, cfg, c.metadata)
	if err != nil {
		return err
	}
	resolver := platform.NewResolver(cfg.Platforms, cfg.Extensions)
	eng, err := newEngine(ctx, cfg, db, resolver)
	if err != nil {
		return err
	}
	result := match(eng, resolver, c.platform, c.name)

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal match result: %w", err)
	}
	fmt.Fprintln(c.out, string(data))
	return nil
}

func (c *MatchCommand) PostRun(ctx context.Context) error {
	logutil.GetLogger(ctx).Info("match completed")
	return nil
}

// match resolves platformName as a folder key first and as a LaunchBox
// label otherwise.
func match(eng *engine.Engine, resolver *platform.Resolver, platformName, fileName string) MatchResult {
	label, ok := resolver.Resolve(platformName)
	if !ok {
		label = strings.TrimSpace(platformName)
	}
	name := filepath.Base(strings.TrimSpace(fileName))
	ext := filepath.Ext(name)
	file := scanner.GameFile{Path: name, Name: name, Stem: strings.TrimSuffix(name, ext), Ext: ext}

	res := MatchResult{Platform: label, File: name}
	found, ok := eng.Find(eng.NewMatcher(label), label, file.Stem)
	res.Candidate = found.Candidate
	if !ok {
		return res
	}
	record := engine.BuildRecord(file, found.Game)
	res.Matched = true
	res.Exact = found.Exact
	res.Score = found.Score
	res.Record = &record
	return res
}

func init() {
	RegisterRunner("match", func() IRunner { return NewMatchCommand() })
}
