package config

import "github.com/qnetctl/qnetctl/internal/client"

// ClientConfig maps the file shape onto the session client's config.
func (c Config) ClientConfig() client.Config {
	return client.Config{
		Host:              c.Controller.Host,
		Port:              c.Controller.Port,
		Username:          c.Controller.Username,
		Password:          c.Controller.Password,
		KeepaliveInterval: c.Keepalive(),
	}
}
