package config

import (
	"fmt"

	"github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
)

// Keys read from the Vault secret at Vault.Path.
const (
	vaultKeyAPISecret        = "api_secret"
	vaultKeyMikrotikPassword = "mikrotik_password"
	vaultKeyBotToken         = "bot_token"
)

// WithVaultSecrets logs in to Vault with userpass credentials and overrides the
// secret fields with the values stored at Vault.Path. Both KV v1 and KV v2 layouts
// are understood. Without VAULT_ADDR the config is returned unchanged.
func (c Config) WithVaultSecrets() (Config, error) {
	if c.Vault.Addr == "" {
		return c, nil
	}

	vcfg := api.DefaultConfig()
	vcfg.Address = c.Vault.Addr

	vc, err := api.NewClient(vcfg)
	if err != nil {
		return c, errors.Wrap(err, "while creating vault client")
	}

	options := map[string]interface{}{
		"password": c.Vault.Password,
	}
	path := fmt.Sprintf("auth/userpass/login/%s", c.Vault.Username)

	login, err := vc.Logical().Write(path, options)
	if err != nil {
		return c, errors.Wrap(err, "while logging in to vault")
	}
	if login == nil || login.Auth == nil {
		return c, errors.New("vault login returned no auth data")
	}

	vc.SetToken(login.Auth.ClientToken)

	secret, err := vc.Logical().Read(c.Vault.Path)
	if err != nil {
		return c, errors.Wrapf(err, "while reading %s from vault", c.Vault.Path)
	}
	if secret == nil {
		return c, errors.Errorf("no secret at %s", c.Vault.Path)
	}

	data := secret.Data
	// KV v2 nests the payload one level down.
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	override := func(dst *string, key string) {
		if v, ok := data[key].(string); ok && v != "" {
			*dst = v
		}
	}
	override(&c.Registry.Secret, vaultKeyAPISecret)
	override(&c.Router.Password, vaultKeyMikrotikPassword)
	override(&c.Telegram.BotToken, vaultKeyBotToken)

	return c, nil
}
