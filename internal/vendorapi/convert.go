package vendorapi

import (
	"strconv"
	"time"
)

// vendorDateLayouts covers the date formats seen across Chinese market-data
// vendors: Tushare-style bare "20240102" and the more conventional
// "2024-01-02".
var vendorDateLayouts = []string{"20060102", "2006-01-02"}

func parseVendorDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range vendorDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

func parseFloatStrict(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func parseIntStrict(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
