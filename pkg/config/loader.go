package config

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const configFileEnvVar = "TRUSTBROKER_CONFIG_FILE"

func DecodeStruct[E any](source interface{}) (E, error) {
	var target E
	err := mapstructure.Decode(source, &target)
	if err != nil {
		var zero E
		return zero, fmt.Errorf("could not decode struct: %w", err)
	}
	return target, nil
}

func EncodeStruct[E any](source E) (map[string]interface{}, error) {
	var target map[string]interface{}
	err := mapstructure.Decode(source, &target)
	if err != nil {
		return nil, fmt.Errorf("could not decode struct: %w", err)
	}
	return target, nil
}

func readConfig[E any](configFilePath string, defaults *E) (*E, error) {
	vp := viper.New()

	if defaults != nil {
		defaultsMap := map[string]interface{}{}
		mapstructure.Decode(defaults, &defaultsMap)

		for key, value := range defaultsMap {
			if value != nil && value != "" {
				vp.SetDefault(key, value)
			}
		}
	}

	vp.SetConfigFile(configFilePath)
	if err := vp.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error while processing config file: %w", err)
	}

	var config E
	err := vp.Unmarshal(&config)
	if err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}

	return &config, nil
}

// LoadConfig reads the service configuration from the file referenced by
// the TRUSTBROKER_CONFIG_FILE env variable, falling back to
// /etc/trustbroker/config.yml.
func LoadConfig[E any](defaults *E) (*E, error) {
	configFile := os.Getenv(configFileEnvVar)
	if configFile == "" {
		log.Infof("ENV '%s' variable not set, will try to load from standard paths", configFileEnvVar)
		configFile = "/etc/trustbroker/config.yml"
	} else {
		log.Infof("loading config file from %s", configFile)
	}

	conf, err := readConfig[E](configFile, defaults)
	if err != nil {
		return nil, err
	}

	return conf, nil
}
