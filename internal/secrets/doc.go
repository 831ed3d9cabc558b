// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package secrets resolves the agent authtoken from the environment, the
// config file and the system keychain.
//
// Backends are queried in priority order: env (NGROK_AUTHTOKEN or
// TUNNELCTL_SECRET_AUTHTOKEN), then the config file, then the keychain.
// A token given on the command line bypasses resolution entirely.
//
//	r := secrets.NewResolver(
//	    secrets.NewEnvBackend(),
//	    secrets.NewStaticBackend("config", map[string]string{secrets.AuthtokenKey: cfg.Agent.Authtoken}),
//	    secrets.NewKeychainBackend(),
//	)
//	token, source, err := r.Lookup(ctx, secrets.AuthtokenKey)
//
// The keychain backend uses github.com/zalando/go-keyring, which supports
// macOS Keychain, the Secret Service API on Linux and the Windows
// Credential Manager.
package secrets
