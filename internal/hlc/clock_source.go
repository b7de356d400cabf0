package hlc

import "time"

func defaultNowMS() uint64 {
	return uint64(time.Now().UnixMilli())
}
