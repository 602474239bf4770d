//go:build !(linux && amd64)

package patch

func install(t target, replacement any) (*patchHook, error) {
	return nil, ErrUnsupported
}

func restore(h *patchHook) error {
	return ErrUnsupported
}
