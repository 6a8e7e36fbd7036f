package mysql

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
)

func TestIsConflict(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"deadlock", &mysql.MySQLError{Number: 1213}, true},
		{"lock wait timeout", &mysql.MySQLError{Number: 1205}, true},
		{"wrapped deadlock", fmt.Errorf("lease: %w", &mysql.MySQLError{Number: 1213}), true},
		{"duplicate entry", &mysql.MySQLError{Number: 1062}, false},
		{"bad connection", mysql.ErrInvalidConn, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, IsConflict(c.err))
		})
	}
}

func TestQueueSchemaCopiesTemplate(t *testing.T) {
	require.Equal(t,
		[]string{"CREATE TABLE IF NOT EXISTS `q_orders` LIKE `queue_template`;"},
		QueueSchema("q_orders", "queue_template"),
	)
}

func TestLeaseArgIsMicroseconds(t *testing.T) {
	require.Equal(t, int64(1500000), LeaseArg(1500*time.Millisecond))
}
