package journal

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	idMu   sync.Mutex
	idMono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	idMono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// newID 生成按时间排序的 ULID，同一毫秒内保持单调递增，
// 适合做流水主键。
func newID() string {
	idMu.Lock()
	defer idMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), idMono)
	if err != nil {
		panic(err)
	}
	return id.String()
}
