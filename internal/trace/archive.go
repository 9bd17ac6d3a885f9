// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the BAComm License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package trace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nishisan-dev/bacomm/internal/logging"
)

// uploadTimeout limita cada PutObject de arquivamento.
const uploadTimeout = 5 * time.Minute

// Archiver sobe arquivos de trace rotacionados para um bucket S3 e
// remove a cópia local após o upload. Falhas de upload deixam o arquivo
// no disco para a próxima rotação humana.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewArchiver resolve as credenciais pela cadeia default do SDK
// (ambiente, perfil, IMDS) e prepara o client S3.
func NewArchiver(ctx context.Context, bucket, prefix, region string, logger *slog.Logger) (*Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return &Archiver{
		client: s3.NewFromConfig(awsCfg),
		bucket: bucket,
		prefix: prefix,
		logger: logging.Component(logger, "trace-archiver").With("bucket", bucket),
	}, nil
}

// Upload envia um arquivo rotacionado e apaga a cópia local em sucesso.
// Pensado para rodar em goroutine própria; erros são logados.
func (a *Archiver) Upload(filePath string) {
	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	f, err := os.Open(filePath)
	if err != nil {
		a.logger.Error("opening rotated trace for upload", "file", filePath, "error", err)
		return
	}
	defer f.Close()

	key := path.Join(a.prefix, filepath.Base(filePath))
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		a.logger.Error("uploading rotated trace", "file", filePath, "key", key, "error", err)
		return
	}

	f.Close()
	if err := os.Remove(filePath); err != nil {
		a.logger.Warn("removing uploaded trace", "file", filePath, "error", err)
	}
	a.logger.Info("trace archived", "key", key)
}
