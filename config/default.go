package config

const (
	dataFolder    = "./linkarr-data"
	logsFolder    = dataFolder + "/logs"
	storeFile     = dataFolder + "/config/torrents.json"
	historyFolder = dataFolder + "/history"
)
