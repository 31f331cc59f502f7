package authkit

import "context"

type clientIPContextKey struct{}
type deviceInfoContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine stamps
// it onto refresh token records and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithDeviceInfo attaches a free-form device descriptor to ctx. The
// Engine stamps it onto refresh token records for "active sessions"
// displays.
func WithDeviceInfo(ctx context.Context, deviceInfo string) context.Context {
	return context.WithValue(ctx, deviceInfoContextKey{}, deviceInfo)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func deviceInfoFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	deviceInfo, _ := ctx.Value(deviceInfoContextKey{}).(string)
	return deviceInfo
}
