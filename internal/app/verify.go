package app

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/romscraper/internal/gamelist"
)

// VerifyCase lists the problems found for one catalog entry.
type VerifyCase struct {
	Rom    string   `json:"rom"`
	Reason []string `json:"reason"`
}

// VerifyLocation groups the cases of one platform folder.
type VerifyLocation struct {
	Location string       `json:"location"`
	Error    string       `json:"error,omitempty"`
	List     []VerifyCase `json:"list"`
}

// VerifyOutput is the JSON document written by verify.
type VerifyOutput struct {
	Catalogs int              `json:"catalogs"`
	Entries  int              `json:"entries"`
	CaseList []VerifyLocation `json:"case_list"`
}

// VerifyCommand checks that every catalog entry points at files that exist.
type VerifyCommand struct {
	rootDir string
	output  string
	out     io.Writer
}

func NewVerifyCommand() *VerifyCommand {
	return &VerifyCommand{out: os.Stdout}
}

func (c *VerifyCommand) Name() string { return "verify" }

func (c *VerifyCommand) Desc() string {
	return "验证 gamelist 中的 ROM 与媒体文件是否存在"
}

func (c *VerifyCommand) Init(f *pflag.FlagSet) {
	f.StringVar(&c.rootDir, "dir", "", "ROM 根目录")
	f.StringVar(&c.output, "output", "", "输出 JSON 文件路径, 为空时输出到标准输出")
}

func (c *VerifyCommand) PreRun(ctx context.Context) error {
	if strings.TrimSpace(c.rootDir) == "" {
		return errors.New("verify requires --dir")
	}
	logutil.GetLogger(ctx).Info("starting verify",
		zap.String("dir", c.rootDir),
		zap.String("output", c.output),
	)
	return nil
}

func (c *VerifyCommand) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	output, err := verifyTree(ctx, c.rootDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal verify output: %w", err)
	}
	if strings.TrimSpace(c.output) == "" {
		fmt.Fprintln(c.out, string(data))
	} else if err := os.WriteFile(c.output, data, 0o644); err != nil {
		return fmt.Errorf("write verify output %s: %w", c.output, err)
	}

	logger.Info("verify completed",
		zap.Int("catalogs", output.Catalogs),
		zap.Int("entries", output.Entries),
		zap.Int("locations", len(output.CaseList)),
	)
	return nil
}

func (c *VerifyCommand) PostRun(ctx context.Context) error { return nil }

// verifyTree walks root for catalogs. Locations without problems are left
// out of the result.
func verifyTree(ctx context.Context, root string) (*VerifyOutput, error) {
	logger := logutil.GetLogger(ctx)
	output := &VerifyOutput{CaseList: []VerifyLocation{}}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || d.Name() != gamelist.DefaultFileName {
			return nil
		}
		logger.Debug("verifying gamelist", zap.String("path", filepath.ToSlash(path)))
		loc, entries := verifyCatalog(filepath.Dir(path), path)
		output.Catalogs++
		output.Entries += entries
		if loc.Error != "" || len(loc.List) > 0 {
			output.CaseList = append(output.CaseList, loc)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return output, nil
}

func verifyCatalog(baseDir, catalogPath string) (VerifyLocation, int) {
	result := VerifyLocation{
		Location: filepath.ToSlash(baseDir),
		List:     []VerifyCase{},
	}
	doc, err := gamelist.ParseFile(catalogPath)
	if err != nil {
		result.Error = err.Error()
		return result, 0
	}

	games := doc.Games()
	for _, game := range games {
		item := VerifyCase{Rom: game.Path, Reason: []string{}}

		romPath := resolveCatalogPath(baseDir, game.Path)
		if !fileExists(romPath) {
			item.Reason = append(item.Reason, "rom missing")
		} else if strings.EqualFold(filepath.Ext(romPath), ".zip") {
			if err := inspectZip(romPath); err != nil {
				item.Reason = append(item.Reason, "zip read failed")
			}
		}
		if game.Name == "" {
			item.Reason = append(item.Reason, "empty name")
		}
		for _, rel := range []string{game.Image, game.Marquee, game.Thumbnail, game.Video} {
			if rel != "" && !fileExists(resolveCatalogPath(baseDir, rel)) {
				item.Reason = append(item.Reason, "media missing:"+rel)
			}
		}

		if len(item.Reason) > 0 {
			result.List = append(result.List, item)
		}
	}
	return result, len(games)
}

// resolveCatalogPath turns a catalog reference such as ./images/a.png into a
// path under baseDir.
func resolveCatalogPath(baseDir, rel string) string {
	if rel == "" {
		return ""
	}
	p := filepath.FromSlash(rel)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func inspectZip(path string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	return r.Close()
}

func init() {
	RegisterRunner("verify", func() IRunner { return NewVerifyCommand() })
}
