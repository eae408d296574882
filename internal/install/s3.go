package install

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectGetter 是下载 s3:// 地址所需的最小 S3 能力，*s3.Client 满足该接口。
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Client 创建匿名访问公开 bucket 的 S3 客户端。
func NewS3Client(region string) *s3.Client {
	if region == "" {
		region = "us-east-1"
	}
	return s3.New(s3.Options{
		Region:      region,
		Credentials: aws.AnonymousCredentials{},
	})
}

func (d *Downloader) openS3(ctx context.Context, location *url.URL) (io.ReadCloser, int64, error) {
	bucket := location.Host
	key := strings.TrimPrefix(location.Path, "/")
	if bucket == "" || key == "" {
		return nil, 0, fmt.Errorf("s3 source %q needs bucket and key", location.String())
	}

	if d.objects == nil {
		d.objects = NewS3Client(d.s3Region)
	}

	out, err := d.objects.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("get object s3://%s/%s: %w", bucket, key, err)
	}

	total := int64(-1)
	if out.ContentLength != nil {
		total = aws.ToInt64(out.ContentLength)
	}
	return out.Body, total, nil
}
