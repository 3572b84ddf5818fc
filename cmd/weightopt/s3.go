package main

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/variantopt/weightopt/internal/config"
	"github.com/variantopt/weightopt/internal/datafiles"
)

// newS3Source builds an S3-backed datafile source using the default AWS
// credential chain (environment, shared config, instance profile). This is
// only reached when DATAFILES_S3_BUCKET is set; the default DirSource needs
// no AWS dependency at all.
func newS3Source(cfg *config.Config) (datafiles.Source, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg)
	return datafiles.S3Source{
		Client: client,
		Bucket: cfg.DatafilesS3Bucket,
		Prefix: cfg.DatafilesS3Prefix,
	}, nil
}
