package app

import (
	"context"

	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// FetchMetadataCommand downloads the LaunchBox Metadata.xml.
type FetchMetadataCommand struct {
	metadata string
	force    bool
}

func NewFetchMetadataCommand() *FetchMetadataCommand { return &FetchMetadataCommand{} }

func (c *FetchMetadataCommand) Name() string { return "fetch-metadata" }

func (c *FetchMetadataCommand) Desc() string {
	return "下载 LaunchBox Metadata.zip 并解压 Metadata.xml"
}

func (c *FetchMetadataCommand) Init(f *pflag.FlagSet) {
	f.StringVar(&c.metadata, "metadata", "", "Metadata.xml 保存路径，默认使用配置")
	f.BoolVar(&c.force, "force", false, "即使本地已存在也重新下载")
}

func (c *FetchMetadataCommand) PreRun(ctx context.Context) error {
	logutil.GetLogger(ctx).Info("starting fetch-metadata", zap.Bool("force", c.force))
	return nil
}

func (c *FetchMetadataCommand) Run(ctx context.Context) error {
	cfg := ConfigFromContext(ctx)
	fetcher, err := newMetadataFetcher(ctx, cfg, c.metadata)
	if err != nil {
		return err
	}
	if c.force {
		if err := fetcher.Fetch(ctx); err != nil {
			return err
		}
	} else if _, err := fetcher.Ensure(ctx); err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("metadata ready", zap.String("path", fetcher.Path()))
	return nil
}

func (c *FetchMetadataCommand) PostRun(ctx context.Context) error { return nil }

func init() {
	RegisterRunner("fetch-metadata", func() IRunner { return NewFetchMetadataCommand() })
}
