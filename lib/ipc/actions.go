// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

// Action names understood by the worker.
const (
	ActionDoNothing       = "do-nothing"
	ActionExit            = "exit"
	ActionLoad            = "load"
	ActionSetStrategy     = "set-strategy"
	ActionDefineDecrypter = "define-decrypter"
	ActionDecrypt         = "decrypt"
	ActionInstallHook     = "install-hook"
	ActionLoadObfuscator  = "load-obfuscator"
	ActionCanDecrypt      = "can-decrypt"
	ActionDecryptAll      = "decrypt-all"
	ActionLoadExtension   = "load-extension"
	ActionDispatch        = "dispatch"
)

// LoadRequest carries the path of the target module for load and
// load-obfuscator.
type LoadRequest struct {
	Path string `cbor:"path"`
}

// SetStrategyRequest selects the string decrypter strategy.
type SetStrategyRequest struct {
	Strategy Strategy `cbor:"strategy"`
}

// DefineDecrypterRequest registers the method with Token as a string
// decrypter.
type DefineDecrypterRequest struct {
	Token uint32 `cbor:"token"`
}

// DefineDecrypterResponse returns the registration index.
type DefineDecrypterResponse struct {
	Index int `cbor:"index"`
}

// DecryptRequest invokes the registered decrypter Index once per
// element of Args. CallerToken identifies the call site in the target
// module; zero means none.
type DecryptRequest struct {
	Index       int     `cbor:"index"`
	Args        [][]any `cbor:"args"`
	CallerToken uint32  `cbor:"caller_token,omitempty"`
}

// DecryptResponse holds one result per call site, in request order.
type DecryptResponse struct {
	Results []WireString `cbor:"results"`
}

// InstallHookRequest installs the method decrypter hook.
type InstallHookRequest struct {
	Info DecryptMethodsInfo `cbor:"info"`
}

// CanDecryptResponse reports whether the obfuscator installed a body
// decrypter that the hook captured.
type CanDecryptResponse struct {
	CanDecrypt bool `cbor:"can_decrypt"`
}

// DecryptAllResponse returns the recovered method bodies ordered by
// token.
type DecryptAllResponse struct {
	Methods []DecryptedMethod `cbor:"methods"`
}

// LoadExtensionRequest instantiates the extension registered as Type.
type LoadExtensionRequest struct {
	Type string `cbor:"type"`
	Args []any  `cbor:"args,omitempty"`
}

// DispatchRequest forwards a message to the loaded extension.
type DispatchRequest struct {
	Message int   `cbor:"message"`
	Args    []any `cbor:"args,omitempty"`
}

// DispatchResponse carries the extension's result.
type DispatchResponse struct {
	Result any `cbor:"result"`
}
