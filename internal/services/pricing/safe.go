package pricing

// TryOrDefault runs a numeric computation and substitutes fallback when it
// fails or panics. Price computation failures are absorbed here so they can
// never take down a caller; the caller decides whether to log.
func TryOrDefault[T any](compute func() (T, error), fallback T) (result T) {
	defer func() {
		if r := recover(); r != nil {
			result = fallback
		}
	}()

	v, err := compute()
	if err != nil {
		return fallback
	}
	return v
}
