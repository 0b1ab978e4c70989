package remote

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/sftp"
	"github.com/sentinel/console/internal/domain"
	"golang.org/x/crypto/ssh"
)

// ReadFile fetches a remote file over SFTP on the pooled connection. A
// missing file yields an error matching fs.ErrNotExist.
func (p *Pool) ReadFile(ctx context.Context, target domain.RemoteTarget, path string) ([]byte, error) {
	var data []byte
	err := p.withClient(ctx, target, func(client *ssh.Client) error {
		sc, err := sftp.NewClient(client)
		if err != nil {
			return fmt.Errorf("sftp: open: %w", err)
		}
		defer sc.Close()

		f, err := sc.Open(path)
		if err != nil {
			return fmt.Errorf("sftp: open %s: %w", path, err)
		}
		defer f.Close()

		data, err = io.ReadAll(f)
		return err
	})
	return data, err
}
