package main

import (
	"context"
	"fmt"
	"net"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/GitThaisen/tv-automation-media-management/internal/config"
	"github.com/GitThaisen/tv-automation-media-management/internal/storage"
	"github.com/GitThaisen/tv-automation-media-management/internal/storage/localfs"
	"github.com/GitThaisen/tv-automation-media-management/internal/storage/objectstore"
	"github.com/GitThaisen/tv-automation-media-management/internal/storage/smb"
)

// buildStorages turns every configured StorageConfig into a live
// storage.Object, dialing/mounting/watching as each kind requires.
// closers accumulates anything that must be released on shutdown.
func buildStorages(ctx context.Context, cfgs []config.StorageConfig) ([]*storage.Object, []closer, error) {
	objects := make([]*storage.Object, 0, len(cfgs))
	var closers []closer

	for _, c := range cfgs {
		handler, cl, err := buildHandler(ctx, c)
		if err != nil {
			for _, prior := range closers {
				prior.Close()
			}
			return nil, nil, errors.Wrapf(err, "storage %q", c.ID)
		}
		if cl != nil {
			closers = append(closers, cl)
		}
		objects = append(objects, &storage.Object{
			ID:                  c.ID,
			Handler:             handler,
			WatchFolder:         c.WatchFolder,
			WatchFolderTargetID: c.WatchFolderTargetID,
			Options:             storage.Options{MediaPath: c.MediaPath},
		})
	}
	return objects, closers, nil
}

type closer interface{ Close() error }

func buildHandler(ctx context.Context, c config.StorageConfig) (storage.Handler, closer, error) {
	switch c.Kind {
	case "localfs":
		h, err := localfs.New(c.LocalFS.Root)
		if err != nil {
			return nil, nil, err
		}
		return h, h, nil

	case "smb":
		conn, err := net.Dial("tcp", c.SMB.Address)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "dial %q", c.SMB.Address)
		}
		h, err := smb.Dial(ctx, conn, smb.Config{
			Address:  c.SMB.Address,
			User:     c.SMB.User,
			Password: c.SMB.Password,
			Domain:   c.SMB.Domain,
			Share:    c.SMB.Share,
			Prefix:   c.SMB.Prefix,
		})
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return h, h, nil

	case "objectstore":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(c.ObjectStore.Region),
		)
		if err != nil {
			return nil, nil, errors.Wrap(err, "load aws config")
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if c.ObjectStore.Endpoint != "" {
				o.BaseEndpoint = &c.ObjectStore.Endpoint
				o.UsePathStyle = true
			}
		})
		h := objectstore.New(client, objectstore.Config{
			Bucket: c.ObjectStore.Bucket,
			Prefix: c.ObjectStore.Prefix,
		})
		return h, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage kind %q", c.Kind)
	}
}

var storagesCmd = &cobra.Command{
	Use:   "storages",
	Short: "Inspect configured storages",
}

var storagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured storages and their watch-folder wiring",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		settings, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		for _, s := range settings.Storages {
			if s.WatchFolder {
				fmt.Printf("%s (%s) -> %s\n", s.ID, s.Kind, s.WatchFolderTargetID)
			} else {
				fmt.Printf("%s (%s)\n", s.ID, s.Kind)
			}
		}
		return nil
	},
}

func init() {
	storagesCmd.AddCommand(storagesListCmd)
}
