package config

import "github.com/joho/godotenv"

func godotenvLoad(path string) error {
	return godotenv.Load(path)
}
